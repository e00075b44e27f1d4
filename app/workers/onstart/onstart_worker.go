// Run on start
package onstart

import (
	"context"
	"fmt"
	"guilded/m/v2/app/config"
	"guilded/m/v2/app/db/mongo"
	"guilded/m/v2/app/lib"
	"guilded/m/v2/app/payments"
	"time"

	log "github.com/sirupsen/logrus"
)

const indexTimeout = 30 * time.Second

// Run prepares the store and checks that every paid tier can be sold.
func Run(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
	defer cancel()

	log.Info("[onstart] ensuring mongo indexes..")
	if err := mongo.MongoDBClient.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("onstart: %w", err)
	}
	log.Info("[onstart] finished ensuring mongo indexes")

	checkPrices()
	return nil
}

// checkPrices warns about paid tiers without a price id; checkout for them fails until configured.
func checkPrices() int {
	missing := 0
	for _, tier := range lib.Tiers {
		if lib.Entitlement(tier).ListPrice == 0 {
			continue
		}
		if _, err := payments.PriceIdForTier(tier); err != nil {
			missing++
			log.Warnf("[onstart] no Stripe price configured for %s", tier)
		}
	}
	config.CONFIG.DataDogClient.Gauge("onstart.missing_prices", float64(missing), nil, 1)
	return missing
}
