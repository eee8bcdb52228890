// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kitsune-sh/kitsune-core/internal/models"
	"github.com/kitsune-sh/kitsune-core/internal/registry"
	"github.com/kitsune-sh/kitsune-core/internal/transport"
)

// FetchTriggerInterval is the default fetch-tick period (§4.G).
const FetchTriggerInterval = 60 * time.Second

type fetchTriggerRequest struct {
	SubscriptionID int64  `json:"subscription_id"`
	SourceURL      string `json:"source_url"`
	CallbackURL    string `json:"callback_url"`
}

// NewFetchTick builds the fetch-tick TaskFunc: select due subscriptions,
// resolve each one's fetcher via the registry, and POST a fetch trigger.
// next_fetch_at is advanced only by the ingestion handler on a
// successful callback, never here (§4.G).
func NewFetchTick(subs *models.SubscriptionStore, reg *registry.Registry, client *transport.Client, callbackBaseURL string) TaskFunc {
	return func(ctx context.Context) error {
		due, err := subs.ListDue(ctx, time.Now())
		if err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}

		correlationID := uuid.NewString()
		log.Debug().Str("correlationId", correlationID).Int("count", len(due)).Msg("fetch-tick: dispatching due subscriptions")

		for _, sub := range due {
			if sub.FetcherID == nil {
				log.Warn().Int64("subscriptionId", sub.ID).Msg("fetch-tick: due subscription has no assigned fetcher")
				continue
			}

			fetcher, ok := reg.Get(*sub.FetcherID)
			if !ok {
				log.Warn().Int64("subscriptionId", sub.ID).Int64("fetcherId", *sub.FetcherID).Msg("fetch-tick: fetcher not registered")
				continue
			}

			req := fetchTriggerRequest{
				SubscriptionID: sub.ID,
				SourceURL:      sub.SourceURL,
				CallbackURL:    callbackBaseURL + "/raw-fetcher-results",
			}
			if err := client.PostJSON(ctx, fetcher.BaseURL+"/fetch", req, nil, transport.FetchTriggerTimeout); err != nil {
				log.Warn().Err(err).Str("correlationId", correlationID).Int64("subscriptionId", sub.ID).Str("fetcher", fetcher.Name).Msg("fetch-tick: trigger POST failed")
				continue
			}
		}
		return nil
	}
}
