// README: Read-through profile cache in Redis; the store stays canonical, every write invalidates and bumps a generation that guards fills.
package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"dispatch/internal/auth"
	"dispatch/internal/types"
)

const (
	profileKeyPrefix    = "dispatch:user:%s:profile"
	generationKeyPrefix = "dispatch:user:%s:gen"
	profileTTL          = 5 * time.Minute
	generationTTL       = time.Hour

	// NoGeneration never matches a stored generation, so a Set carrying it is dropped.
	NoGeneration int64 = -1
)

var errStaleFill = errors.New("profile generation moved")

// Cache holds profile snapshots for display reads only. It is never consulted
// for availability or assignment decisions.
//
// Get reports the generation observed for id even on a miss. Set stores u only
// if that generation is still current, so a fill racing an Invalidate is dropped.
type Cache interface {
	Get(ctx context.Context, id types.ID) (u *User, gen int64, ok bool)
	Set(ctx context.Context, u *User, gen int64)
	Invalidate(ctx context.Context, id types.ID)
}

type NopCache struct{}

func (NopCache) Get(context.Context, types.ID) (*User, int64, bool) { return nil, NoGeneration, false }
func (NopCache) Set(context.Context, *User, int64)                  {}
func (NopCache) Invalidate(context.Context, types.ID)               {}

type RedisCache struct {
	redis *redis.Client
	ttl   time.Duration
	log   zerolog.Logger
}

func NewRedisCache(client *redis.Client, log zerolog.Logger) *RedisCache {
	return &RedisCache{redis: client, ttl: profileTTL, log: log}
}

type cachedProfile struct {
	ID             types.ID  `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Role           auth.Role `json:"role"`
	IsAvailable    bool      `json:"isAvailable"`
	CurrentOrderID *string   `json:"currentOrderId"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (c *RedisCache) Get(ctx context.Context, id types.ID) (*User, int64, bool) {
	var genCmd, profileCmd *redis.StringCmd
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		genCmd = pipe.Get(ctx, generationKey(id))
		profileCmd = pipe.Get(ctx, profileKey(id))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		c.log.Warn().Err(err).Str("user_id", string(id)).Msg("profile cache read failed")
		return nil, NoGeneration, false
	}
	gen, err := genCmd.Int64()
	if errors.Is(err, redis.Nil) {
		gen = 0
	} else if err != nil {
		return nil, NoGeneration, false
	}
	val, err := profileCmd.Bytes()
	if err != nil {
		return nil, gen, false
	}
	var p cachedProfile
	if err := json.Unmarshal(val, &p); err != nil {
		c.Invalidate(ctx, id)
		return nil, NoGeneration, false
	}
	return &User{
		ID:             p.ID,
		Name:           p.Name,
		Email:          p.Email,
		Role:           p.Role,
		IsAvailable:    p.IsAvailable,
		CurrentOrderID: p.CurrentOrderID,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}, gen, true
}

func (c *RedisCache) Set(ctx context.Context, u *User, gen int64) {
	if gen == NoGeneration {
		return
	}
	b, err := json.Marshal(cachedProfile{
		ID:             u.ID,
		Name:           u.Name,
		Email:          u.Email,
		Role:           u.Role,
		IsAvailable:    u.IsAvailable,
		CurrentOrderID: u.CurrentOrderID,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	})
	if err != nil {
		return
	}
	genKey := generationKey(u.ID)
	err = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, profileKey(u.ID), b, c.ttl)
			return nil
		})
		return err
	}, genKey)
	switch {
	case err == nil:
	case errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
		c.log.Debug().Str("user_id", string(u.ID)).Msg("profile cache fill skipped")
	default:
		c.log.Warn().Err(err).Str("user_id", string(u.ID)).Msg("profile cache write failed")
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, id types.ID) {
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(id))
		pipe.Expire(ctx, generationKey(id), generationTTL)
		pipe.Del(ctx, profileKey(id))
		return nil
	})
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", string(id)).Msg("profile cache invalidate failed")
	}
}

func profileKey(id types.ID) string {
	return fmt.Sprintf(profileKeyPrefix, string(id))
}

func generationKey(id types.ID) string {
	return fmt.Sprintf(generationKeyPrefix, string(id))
}
