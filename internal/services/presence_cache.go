package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// PresenceCache stores ephemeral per-session presence: cursor entries with a
// staleness TTL and typing flags with a shorter one. Entries expire on their
// own; Purge removes everything for a session at teardown.
type PresenceCache interface {
	SetCursor(ctx context.Context, token string, userID uuid.UUID, data []byte, ttl time.Duration) error
	GetCursor(ctx context.Context, token string, userID uuid.UUID) ([]byte, error)
	ActiveCursors(ctx context.Context, token string) (map[uuid.UUID][]byte, error)
	RemoveCursor(ctx context.Context, token string, userID uuid.UUID) error
	SetTyping(ctx context.Context, token string, userID uuid.UUID, ttl time.Duration) error
	IsTyping(ctx context.Context, token string, userID uuid.UUID) (bool, error)
	Purge(ctx context.Context, token string) error
}

var ErrCursorNotFound = errors.New("cursor not found")

func roomKey(token string) string {
	return "presence:room:" + token
}

func cursorKey(token string, userID uuid.UUID) string {
	return "presence:cursor:" + token + ":" + userID.String()
}

func typingKey(token string, userID uuid.UUID) string {
	return "presence:typing:" + token + ":" + userID.String()
}

type redisPresence struct {
	rdb *redis.Client
}

func NewRedisPresence(rdb *redis.Client) PresenceCache {
	return &redisPresence{rdb: rdb}
}

func (p *redisPresence) SetCursor(ctx context.Context, token string, userID uuid.UUID, data []byte, ttl time.Duration) error {
	pipe := p.rdb.Pipeline()
	pipe.SAdd(ctx, roomKey(token), userID.String())
	pipe.Set(ctx, cursorKey(token, userID), data, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *redisPresence) GetCursor(ctx context.Context, token string, userID uuid.UUID) ([]byte, error) {
	data, err := p.rdb.Get(ctx, cursorKey(token, userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCursorNotFound
	}
	return data, err
}

func (p *redisPresence) ActiveCursors(ctx context.Context, token string) (map[uuid.UUID][]byte, error) {
	members, err := p.rdb.SMembers(ctx, roomKey(token)).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := p.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(members))
	ids := make([]uuid.UUID, len(members))
	for i, m := range members {
		id, perr := uuid.Parse(m)
		if perr != nil {
			continue
		}
		ids[i] = id
		cmds[i] = pipe.Get(ctx, cursorKey(token, id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := make(map[uuid.UUID][]byte)
	for i, cmd := range cmds {
		if cmd == nil {
			continue
		}
		data, gerr := cmd.Bytes()
		if gerr != nil {
			// Expired entry: the cursor is stale, drop it from the room.
			p.rdb.SRem(ctx, roomKey(token), members[i])
			continue
		}
		out[ids[i]] = data
	}
	return out, nil
}

func (p *redisPresence) RemoveCursor(ctx context.Context, token string, userID uuid.UUID) error {
	pipe := p.rdb.Pipeline()
	pipe.SRem(ctx, roomKey(token), userID.String())
	pipe.Del(ctx, cursorKey(token, userID), typingKey(token, userID))
	_, err := pipe.Exec(ctx)
	return err
}

func (p *redisPresence) SetTyping(ctx context.Context, token string, userID uuid.UUID, ttl time.Duration) error {
	return p.rdb.Set(ctx, typingKey(token, userID), "1", ttl).Err()
}

func (p *redisPresence) IsTyping(ctx context.Context, token string, userID uuid.UUID) (bool, error) {
	n, err := p.rdb.Exists(ctx, typingKey(token, userID)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *redisPresence) Purge(ctx context.Context, token string) error {
	members, err := p.rdb.SMembers(ctx, roomKey(token)).Result()
	if err != nil {
		return err
	}
	keys := []string{roomKey(token)}
	for _, m := range members {
		if id, perr := uuid.Parse(m); perr == nil {
			keys = append(keys, cursorKey(token, id), typingKey(token, id))
		}
	}
	return p.rdb.Del(ctx, keys...).Err()
}

// memoryPresence is the in-process fallback used in tests and when no Redis
// address is configured. now is injectable so expiry can be tested without
// sleeping.
type memoryPresence struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	rooms   map[string]map[uuid.UUID]bool
	now     func() time.Time
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

func NewMemoryPresence() PresenceCache {
	return &memoryPresence{
		entries: make(map[string]memoryEntry),
		rooms:   make(map[string]map[uuid.UUID]bool),
		now:     time.Now,
	}
}

func (p *memoryPresence) SetCursor(ctx context.Context, token string, userID uuid.UUID, data []byte, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rooms[token] == nil {
		p.rooms[token] = make(map[uuid.UUID]bool)
	}
	p.rooms[token][userID] = true
	p.entries[cursorKey(token, userID)] = memoryEntry{data: data, expiresAt: p.now().Add(ttl)}
	return nil
}

func (p *memoryPresence) GetCursor(ctx context.Context, token string, userID uuid.UUID) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[cursorKey(token, userID)]
	if !ok || p.now().After(e.expiresAt) {
		return nil, ErrCursorNotFound
	}
	return e.data, nil
}

func (p *memoryPresence) ActiveCursors(ctx context.Context, token string) (map[uuid.UUID][]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[uuid.UUID][]byte)
	for id := range p.rooms[token] {
		e, ok := p.entries[cursorKey(token, id)]
		if !ok || p.now().After(e.expiresAt) {
			continue
		}
		out[id] = e.data
	}
	return out, nil
}

func (p *memoryPresence) RemoveCursor(ctx context.Context, token string, userID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, cursorKey(token, userID))
	delete(p.entries, typingKey(token, userID))
	delete(p.rooms[token], userID)
	return nil
}

func (p *memoryPresence) SetTyping(ctx context.Context, token string, userID uuid.UUID, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[typingKey(token, userID)] = memoryEntry{data: []byte("1"), expiresAt: p.now().Add(ttl)}
	return nil
}

func (p *memoryPresence) IsTyping(ctx context.Context, token string, userID uuid.UUID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[typingKey(token, userID)]
	return ok && !p.now().After(e.expiresAt), nil
}

func (p *memoryPresence) Purge(ctx context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.rooms[token] {
		delete(p.entries, cursorKey(token, id))
		delete(p.entries, typingKey(token, id))
	}
	delete(p.rooms, token)
	return nil
}
