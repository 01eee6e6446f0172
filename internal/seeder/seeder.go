// Package seeder creates fixed development API keys, one per plan.
package seeder

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vnmchuo/vtplus-gateway/internal/auth"
	"github.com/vnmchuo/vtplus-gateway/internal/vtplus"
)

type Key struct {
	Key    string
	UserID string
	Plan   vtplus.PlanSlug
}

// DevKeys are the keys SeedDevKeys writes. They must never be used outside
// local development.
var DevKeys = []Key{
	{Key: "vt-plus-dev-key-12345", UserID: "00000000-0000-0000-0000-000000000001", Plan: vtplus.PlanPlus},
	{Key: "vt-base-dev-key-12345", UserID: "00000000-0000-0000-0000-000000000002", Plan: vtplus.PlanBase},
}

// SeedDevKeys upserts DevKeys and returns how many were written.
func SeedDevKeys(ctx context.Context, store auth.Store) int {
	created := 0
	for _, k := range DevKeys {
		apiKey := &auth.APIKey{
			UserID:   k.UserID,
			PlanSlug: k.Plan,
			KeyHash:  auth.HashKey(k.Key),
			Active:   true,
		}

		if err := store.Create(ctx, apiKey); err != nil {
			log.WithError(err).WithField("user_id", k.UserID).Warn("seeder: failed to create dev key, skipping")
			continue
		}
		created++
		log.WithFields(log.Fields{
			"key":     k.Key,
			"user_id": k.UserID,
			"plan":    k.Plan,
		}).Info("seeder: dev API key ready")
	}
	return created
}
