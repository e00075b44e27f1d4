package consultations

import (
	"errors"
	"fmt"
	"guilded/m/v2/app/models"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	MetadataType           = "type"
	MetadataTypeValue      = "consultation"
	MetadataUserID         = "user_id"
	MetadataTierAtPurchase = "tier_at_purchase"
	MetadataDiscounted     = "discounted"
	MetadataPrice          = "price"
)

var ErrInvalidMetadata = errors.New("invalid consultation metadata")

// CheckoutMetadata freezes the price decision into the checkout session. The reconciler copies it
// into the Consultation record verbatim.
func CheckoutMetadata(userID string, eligibility Eligibility) map[string]string {
	return map[string]string{
		MetadataType:           MetadataTypeValue,
		MetadataUserID:         userID,
		MetadataTierAtPurchase: string(eligibility.Tier),
		MetadataDiscounted:     strconv.FormatBool(eligibility.Eligible),
		MetadataPrice:          strconv.FormatInt(eligibility.Price, 10),
	}
}

func IsConsultationCheckout(metadata map[string]string) bool {
	return metadata[MetadataType] == MetadataTypeValue
}

// FromCheckoutMetadata builds the purchase record from the frozen metadata. amountTotal is used
// only when the metadata carries no price.
func FromCheckoutMetadata(metadata map[string]string, sessionID, paymentID string, amountTotal int64, purchasedAt time.Time) (models.Consultation, error) {
	userID := metadata[MetadataUserID]
	if userID == "" {
		return models.Consultation{}, fmt.Errorf("FromCheckoutMetadata: %w: missing user id", ErrInvalidMetadata)
	}
	tier, err := models.ParseTier(metadata[MetadataTierAtPurchase])
	if err != nil {
		return models.Consultation{}, fmt.Errorf("FromCheckoutMetadata: %w: %v", ErrInvalidMetadata, err)
	}
	discounted, err := strconv.ParseBool(metadata[MetadataDiscounted])
	if err != nil {
		return models.Consultation{}, fmt.Errorf("FromCheckoutMetadata: %w: discounted flag %q", ErrInvalidMetadata, metadata[MetadataDiscounted])
	}
	price := amountTotal
	if raw, ok := metadata[MetadataPrice]; ok && raw != "" {
		price, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return models.Consultation{}, fmt.Errorf("FromCheckoutMetadata: %w: price %q", ErrInvalidMetadata, raw)
		}
	}
	return models.Consultation{
		ID:              uuid.NewString(),
		UserID:          userID,
		TierAtPurchase:  tier,
		Price:           price,
		Discounted:      discounted,
		PurchasedAt:     purchasedAt,
		StripeSessionId: sessionID,
		StripePaymentId: paymentID,
	}, nil
}
