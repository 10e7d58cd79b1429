package presence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// ChatKind 聊天记录类型
type ChatKind string

const (
	ChatKindMessage ChatKind = "message"
	ChatKindNotice  ChatKind = "notice"
)

// ChatEntry 一条聊天记录，按实体 id 归属
type ChatEntry struct {
	ID       string
	EntityID string
	Name     string
	Color    string
	Text     string
	Kind     ChatKind
	At       time.Time
}

// NewChatEntry 为入站消息生成记录
func NewChatEntry(from EntityState, text string, at time.Time) ChatEntry {
	return ChatEntry{
		ID:       uuid.NewString(),
		EntityID: from.ID,
		Name:     from.Attrs.Name,
		Color:    from.Attrs.Color,
		Text:     text,
		Kind:     ChatKindMessage,
		At:       at,
	}
}

// NewNotice 本地提示（进入/离开区域等）
func NewNotice(entityID, text string, at time.Time) ChatEntry {
	return ChatEntry{
		ID:       uuid.NewString(),
		EntityID: entityID,
		Text:     text,
		Kind:     ChatKindNotice,
		At:       at,
	}
}

// ChatLog 聊天记录的持久化接口
type ChatLog interface {
	Append(ctx context.Context, e ChatEntry) error
}

// MemoryChatLog 进程内聊天记录
type MemoryChatLog struct {
	mu      sync.Mutex
	entries []ChatEntry
}

func (l *MemoryChatLog) Append(_ context.Context, e ChatEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

// Entries 返回副本
func (l *MemoryChatLog) Entries() []ChatEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ChatEntry(nil), l.entries...)
}

// SQLiteChatLog 使用 SQLite 存储聊天记录
type SQLiteChatLog struct {
	db *sql.DB
}

// OpenSQLiteChatLog 打开数据库并确保表结构存在
func OpenSQLiteChatLog(ctx context.Context, path string) (*SQLiteChatLog, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	l := &SQLiteChatLog{db: db}
	if err := l.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *SQLiteChatLog) ensureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS chat_entries (
	id         TEXT PRIMARY KEY,
	entity_id  TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	color      TEXT NOT NULL DEFAULT '',
	text       TEXT NOT NULL,
	kind       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_entries_entity ON chat_entries(entity_id, created_at);
CREATE INDEX IF NOT EXISTS idx_chat_entries_created ON chat_entries(created_at);`
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating chat schema: %w", err)
	}
	return nil
}

func (l *SQLiteChatLog) Append(ctx context.Context, e ChatEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO chat_entries (id, entity_id, name, color, text, kind, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EntityID, e.Name, e.Color, e.Text, string(e.Kind), e.At.UnixNano())
	if err != nil {
		return fmt.Errorf("inserting chat entry: %w", err)
	}
	return nil
}

// Recent 最近 limit 条，按时间升序
func (l *SQLiteChatLog) Recent(ctx context.Context, limit int) ([]ChatEntry, error) {
	return l.query(ctx,
		`SELECT id, entity_id, name, color, text, kind, created_at FROM (
			SELECT * FROM chat_entries ORDER BY created_at DESC LIMIT ?
		) ORDER BY created_at ASC`, limit)
}

// ByEntity 某实体的全部记录，按时间升序
func (l *SQLiteChatLog) ByEntity(ctx context.Context, entityID string) ([]ChatEntry, error) {
	return l.query(ctx,
		`SELECT id, entity_id, name, color, text, kind, created_at FROM chat_entries
		WHERE entity_id = ? ORDER BY created_at ASC`, entityID)
}

func (l *SQLiteChatLog) query(ctx context.Context, q string, args ...any) ([]ChatEntry, error) {
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chat entries: %w", err)
	}
	defer rows.Close()

	var out []ChatEntry
	for rows.Next() {
		var e ChatEntry
		var kind string
		var at int64
		if err := rows.Scan(&e.ID, &e.EntityID, &e.Name, &e.Color, &e.Text, &kind, &at); err != nil {
			return nil, fmt.Errorf("scanning chat entry: %w", err)
		}
		e.Kind = ChatKind(kind)
		e.At = time.Unix(0, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *SQLiteChatLog) Close() error {
	return l.db.Close()
}

// Chat 出站聊天：去除空白、限速
type Chat struct {
	limiter *rate.Limiter
}

func NewChat(cfg ChatConfig) *Chat {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Chat{limiter: rate.NewLimiter(rate.Every(cfg.Interval), burst)}
}

// Prepare 返回可发送的文本；空文本或超出速率返回 false
func (c *Chat) Prepare(text string, now time.Time) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	if !c.limiter.AllowN(now, 1) {
		Log.Debugw("chat rate limited", "len", len(text))
		return "", false
	}
	return text, true
}
