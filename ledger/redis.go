package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// createScript inserts an entry hash only if the key is absent.
// KEYS[1] = entry key; ARGV = spent, window_start, duration_days, version, updated_at
var createScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
redis.call("HSET", KEYS[1],
    "spent", ARGV[1], "window_start", ARGV[2], "duration_days", ARGV[3],
    "version", ARGV[4], "updated_at", ARGV[5])
return 1
`)

// updateScript is the compare-and-swap on version, with the optional receipt
// written in the same script.
// KEYS[1] = entry key, KEYS[2] = receipt key or ""
// ARGV[1] = expected version, ARGV[2..6] = new fields, ARGV[7] = receipt JSON
// Returns 1 applied, 0 version mismatch or missing, -1 duplicate proposal.
var updateScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], "version")
if not current then
    return 0
end
if KEYS[2] ~= "" and redis.call("EXISTS", KEYS[2]) == 1 then
    return -1
end
if current ~= ARGV[1] then
    return 0
end
redis.call("HSET", KEYS[1],
    "spent", ARGV[2], "window_start", ARGV[3], "duration_days", ARGV[4],
    "version", ARGV[5], "updated_at", ARGV[6])
if KEYS[2] ~= "" then
    redis.call("SET", KEYS[2], ARGV[7])
end
return 1
`)

// RedisStore keeps the ledger in Redis hashes. Keys of one instance share a
// hash tag so the scripts stay valid on a cluster.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "blockkit:ledger:"}
}

// NewRedis connects to addr and checks the connection.
func NewRedis(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewRedisStore(client), nil
}

func (s *RedisStore) entryKey(instanceID string) string {
	return s.prefix + "{" + instanceID + "}"
}

func (s *RedisStore) receiptKey(instanceID, proposalID string) string {
	return s.entryKey(instanceID) + ":receipt:" + proposalID
}

func entryArgs(e Entry) []any {
	return []any{
		e.CumulativeSpent.String(),
		e.WindowStart.UTC().Format(time.RFC3339Nano),
		e.DurationDays,
		e.Version,
		e.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func entryFromHash(instanceID string, h map[string]string) (Entry, error) {
	e := Entry{InstanceID: instanceID}
	var err error
	if e.CumulativeSpent, err = decimal.NewFromString(h["spent"]); err != nil {
		return Entry{}, fmt.Errorf("spent: %w", err)
	}
	if e.WindowStart, err = time.Parse(time.RFC3339Nano, h["window_start"]); err != nil {
		return Entry{}, fmt.Errorf("window_start: %w", err)
	}
	if e.DurationDays, err = strconv.Atoi(h["duration_days"]); err != nil {
		return Entry{}, fmt.Errorf("duration_days: %w", err)
	}
	if e.Version, err = strconv.ParseInt(h["version"], 10, 64); err != nil {
		return Entry{}, fmt.Errorf("version: %w", err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, h["updated_at"]); err != nil {
		return Entry{}, fmt.Errorf("updated_at: %w", err)
	}
	return e, nil
}

func (s *RedisStore) Load(ctx context.Context, instanceID string) (Entry, error) {
	h, err := s.client.HGetAll(ctx, s.entryKey(instanceID)).Result()
	if err != nil {
		return Entry{}, err
	}
	if len(h) == 0 {
		return Entry{}, ErrNotFound
	}
	return entryFromHash(instanceID, h)
}

func (s *RedisStore) Create(ctx context.Context, e Entry) error {
	n, err := createScript.Run(ctx, s.client, []string{s.entryKey(e.InstanceID)}, entryArgs(e)...).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrExists
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, prevVersion int64, next Entry, r *Receipt) error {
	keys := []string{s.entryKey(next.InstanceID), ""}
	receipt := ""
	if r != nil {
		keys[1] = s.receiptKey(r.InstanceID, r.ProposalID)
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		receipt = string(data)
	}

	args := append([]any{strconv.FormatInt(prevVersion, 10)}, entryArgs(next)...)
	args = append(args, receipt)

	n, err := updateScript.Run(ctx, s.client, keys, args...).Int64()
	if err != nil {
		return err
	}
	switch n {
	case 1:
		return nil
	case -1:
		return ErrDuplicateProposal
	default:
		return ErrConflict
	}
}

func (s *RedisStore) Receipt(ctx context.Context, instanceID, proposalID string) (Receipt, error) {
	data, err := s.client.Get(ctx, s.receiptKey(instanceID, proposalID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Receipt{}, ErrNotFound
	}
	if err != nil {
		return Receipt{}, err
	}
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return Receipt{}, fmt.Errorf("decode receipt: %w", err)
	}
	return r, nil
}

// ListReceipts scans the instance's receipt keys and orders them by
// AppliedAt.
func (s *RedisStore) ListReceipts(ctx context.Context, instanceID string) ([]Receipt, error) {
	match := globEscape(s.receiptKey(instanceID, "")) + "*"
	var keys []string
	iter := s.client.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Receipt, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue // deleted between SCAN and MGET
		}
		var r Receipt
		if err := json.Unmarshal([]byte(str), &r); err != nil {
			return nil, fmt.Errorf("decode receipt: %w", err)
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppliedAt.Before(out[j].AppliedAt) })
	return out, nil
}

func globEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)
	return r.Replace(s)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
