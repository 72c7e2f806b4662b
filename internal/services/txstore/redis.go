package txstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"rental-payments/internal/status"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	// claimHoldScript marks a HELD hold as being settled by ARGV[2].
	// Returns 1 on success, 0 when the hold is unknown and -1 when it is not claimable.
	claimHoldScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
if redis.call('HGET', KEYS[1], 'status') ~= ARGV[1] then
	return -1
end
if redis.call('HSETNX', KEYS[1], 'claim', ARGV[2]) == 0 then
	return -1
end
return 1
`

	// promoteHoldScript moves a hold from ARGV[1] to ARGV[2].
	// Returns 1 when promoted, 0 when the hold is unknown and -1 when it is in another state.
	promoteHoldScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
if redis.call('HGET', KEYS[1], 'status') ~= ARGV[1] then
	return -1
end
redis.call('HSET', KEYS[1], 'status', ARGV[2])
return 1
`

	finishHoldScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'captured', ARGV[2])
redis.call('HDEL', KEYS[1], 'claim')
return 1
`

	// reserveRefundScript books ARGV[1] cents against the charge.
	// Returns the new refunded total, -1 when it would exceed the charge and -2 when unknown.
	reserveRefundScript = `
local amount = redis.call('HGET', KEYS[1], 'amount')
if not amount then
	return -2
end
local refunded = tonumber(redis.call('HGET', KEYS[1], 'refunded') or '0') + tonumber(ARGV[1])
if refunded > tonumber(amount) then
	return -1
end
redis.call('HSET', KEYS[1], 'refunded', refunded)
if refunded == tonumber(amount) then
	redis.call('HSET', KEYS[1], 'status', ARGV[2])
end
return refunded
`

	releaseRefundScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -2
end
local refunded = tonumber(redis.call('HGET', KEYS[1], 'refunded') or '0') - tonumber(ARGV[1])
if refunded < 0 then
	refunded = 0
end
redis.call('HSET', KEYS[1], 'refunded', refunded)
if redis.call('HGET', KEYS[1], 'status') == ARGV[2] then
	redis.call('HSET', KEYS[1], 'status', ARGV[3])
end
return refunded
`
)

// RedisStore keeps state in Redis hashes. Mutable fields live beside the JSON snapshot
// so the Lua scripts can change them atomically.
type RedisStore struct {
	client redis.Cmdable
}

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func holdKey(id string) string {
	return "payment:hold:" + id
}

func chargeKey(id string) string {
	return "payment:charge:" + id
}

func idempotencyKey(key string) string {
	return "payment:idempotency:" + key
}

func (s *RedisStore) SaveHold(ctx context.Context, h *Hold) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal hold: %w", err)
	}
	key := holdKey(h.HoldID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "data", string(data), "status", string(h.Status), "captured", h.CapturedAmount.String())
		pipe.ExpireAt(ctx, key, holdDeadline(h))
		return nil
	})
	if err != nil {
		return fmt.Errorf("save hold %s: %w", h.HoldID, err)
	}
	return nil
}

func (s *RedisStore) GetHold(ctx context.Context, holdID string) (*Hold, error) {
	fields, err := s.client.HGetAll(ctx, holdKey(holdID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get hold %s: %w", holdID, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", status.ErrHoldNotFound, holdID)
	}

	var h Hold
	if err := json.Unmarshal([]byte(fields["data"]), &h); err != nil {
		return nil, fmt.Errorf("decode hold %s: %w", holdID, err)
	}
	h.Status = status.PaymentStatus(fields["status"])
	h.ClaimedBy = fields["claim"]
	if v := fields["captured"]; v != "" {
		if h.CapturedAmount, err = decimal.NewFromString(v); err != nil {
			return nil, fmt.Errorf("decode hold %s: %w", holdID, err)
		}
	}
	return &h, nil
}

func (s *RedisStore) PromoteHold(ctx context.Context, holdID string) (bool, error) {
	res, err := s.client.Eval(ctx, promoteHoldScript, []string{holdKey(holdID)},
		string(status.Pending), string(status.Held)).Int64()
	if err != nil {
		return false, fmt.Errorf("promote hold %s: %w", holdID, err)
	}
	if res == 0 {
		return false, fmt.Errorf("%w: %s", status.ErrHoldNotFound, holdID)
	}
	return res == 1, nil
}

func (s *RedisStore) ClaimHold(ctx context.Context, holdID, op string) (*Hold, error) {
	res, err := s.client.Eval(ctx, claimHoldScript, []string{holdKey(holdID)}, string(status.Held), op).Int64()
	if err != nil {
		return nil, fmt.Errorf("claim hold %s: %w", holdID, err)
	}
	if res == 0 {
		return nil, fmt.Errorf("%w: %s", status.ErrHoldNotFound, holdID)
	}

	h, err := s.GetHold(ctx, holdID)
	if err != nil {
		return nil, err
	}
	if res < 0 {
		return h, fmt.Errorf("%w: %s is %s", status.ErrHoldNotActive, holdID, h.Status)
	}
	return h, nil
}

func (s *RedisStore) FinishHold(ctx context.Context, holdID string, st status.PaymentStatus, captured decimal.Decimal) error {
	res, err := s.client.Eval(ctx, finishHoldScript, []string{holdKey(holdID)}, string(st), captured.String()).Int64()
	if err != nil {
		return fmt.Errorf("finish hold %s: %w", holdID, err)
	}
	if res == 0 {
		return fmt.Errorf("%w: %s", status.ErrHoldNotFound, holdID)
	}
	return nil
}

func (s *RedisStore) AbortHold(ctx context.Context, holdID string) error {
	if err := s.client.HDel(ctx, holdKey(holdID), "claim").Err(); err != nil {
		return fmt.Errorf("abort hold %s: %w", holdID, err)
	}
	return nil
}

func (s *RedisStore) SaveCharge(ctx context.Context, c *Charge) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal charge: %w", err)
	}
	key := chargeKey(c.PaymentID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"data", string(data),
			"amount", minorUnits(c.Amount),
			"refunded", minorUnits(c.RefundedAmount),
			"status", string(c.Status),
		)
		pipe.Expire(ctx, key, chargeRetention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save charge %s: %w", c.PaymentID, err)
	}
	return nil
}

func (s *RedisStore) GetCharge(ctx context.Context, paymentID string) (*Charge, error) {
	fields, err := s.client.HGetAll(ctx, chargeKey(paymentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get charge %s: %w", paymentID, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", status.ErrPaymentNotFound, paymentID)
	}

	var c Charge
	if err := json.Unmarshal([]byte(fields["data"]), &c); err != nil {
		return nil, fmt.Errorf("decode charge %s: %w", paymentID, err)
	}
	c.Status = status.PaymentStatus(fields["status"])
	if v := fields["refunded"]; v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode charge %s: %w", paymentID, err)
		}
		c.RefundedAmount = fromMinorUnits(n)
	}
	return &c, nil
}

func (s *RedisStore) ReserveRefund(ctx context.Context, paymentID string, amount decimal.Decimal) (*Charge, error) {
	res, err := s.client.Eval(ctx, reserveRefundScript, []string{chargeKey(paymentID)},
		minorUnits(amount), string(status.Refunded)).Int64()
	if err != nil {
		return nil, fmt.Errorf("reserve refund %s: %w", paymentID, err)
	}

	switch res {
	case -2:
		return nil, fmt.Errorf("%w: %s", status.ErrPaymentNotFound, paymentID)
	case -1:
		c, err := s.GetCharge(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		return c, fmt.Errorf("%w: %s remaining", status.ErrRefundExceeds, c.Refundable())
	}
	return s.GetCharge(ctx, paymentID)
}

func (s *RedisStore) ReleaseRefund(ctx context.Context, paymentID string, amount decimal.Decimal) error {
	res, err := s.client.Eval(ctx, releaseRefundScript, []string{chargeKey(paymentID)},
		minorUnits(amount), string(status.Refunded), string(status.Completed)).Int64()
	if err != nil {
		return fmt.Errorf("release refund %s: %w", paymentID, err)
	}
	if res == -2 {
		return fmt.Errorf("%w: %s", status.ErrPaymentNotFound, paymentID)
	}
	return nil
}

func (s *RedisStore) ClaimIdempotent(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, idempotencyKey(key), inProgress, InProgressTTL).Result()
	if err != nil {
		return false, fmt.Errorf("claim idempotent %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) SaveIdempotent(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, idempotencyKey(key), value, IdempotencyTTL).Err(); err != nil {
		return fmt.Errorf("save idempotent %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) GetIdempotent(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, idempotencyKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get idempotent %s: %w", key, err)
	}
	if string(v) == inProgress {
		return nil, false, nil
	}
	return v, true, nil
}

func (s *RedisStore) DeleteIdempotent(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, idempotencyKey(key)).Err(); err != nil {
		return fmt.Errorf("delete idempotent %s: %w", key, err)
	}
	return nil
}

var (
	_ Store = (*RedisStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
