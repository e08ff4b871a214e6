// Package payment is the boundary to the external payment provider. The
// provider hosts the payment page and reports back through a callback; this
// side only ever builds the URL a buyer is sent to.
package payment

import (
	"errors"
	"fmt"
	"net/url"
)

// DefaultURL is the provider's hosted payment page.
const DefaultURL = "https://payment.provider/pay"

// HostedCheckout builds provider-hosted payment URLs.
type HostedCheckout struct {
	base *url.URL
}

// NewHostedCheckout validates base and returns a checkout for it.
func NewHostedCheckout(base string) (*HostedCheckout, error) {
	if base == "" {
		base = DefaultURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid payment url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid payment url %q: scheme and host are required", base)
	}
	return &HostedCheckout{base: u}, nil
}

// PaymentURL returns the payment page for orderID, keeping any query
// parameters already present on the base URL.
func (c *HostedCheckout) PaymentURL(orderID string) (string, error) {
	if orderID == "" {
		return "", errors.New("order id is required")
	}
	u := *c.base
	q := u.Query()
	q.Set("order_id", orderID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
