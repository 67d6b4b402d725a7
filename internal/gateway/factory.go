package gateway

import (
	"fmt"

	"github.com/noah-isme/sma-commerce-api/pkg/config"
)

// New selects the provider named by PAYMENT_PROVIDER.
func New(cfg config.PaymentsConfig) (CheckoutGateway, error) {
	switch cfg.Provider {
	case config.ProviderStripe, "":
		return NewStripeGateway(StripeConfig{SecretKey: cfg.StripeSecretKey, Timeout: cfg.Timeout})
	case config.ProviderMercadoPago:
		return NewMercadoPagoGateway(cfg.MercadoPagoAccessToken, cfg.Timeout)
	case config.ProviderMock:
		return NewMockGateway(""), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
}
