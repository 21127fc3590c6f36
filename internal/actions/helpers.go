package actions

import (
	"time"

	"github.com/Veraticus/autopay/internal/model"
)

func boolPtr(b bool) *bool {
	return &b
}

func optBoolPtr(rule model.Rule, key string) *bool {
	v, ok := rule.OptBool(key)
	if !ok {
		return nil
	}
	return &v
}

func currencyOrDefault(currency string) string {
	if currency == "" {
		return model.DefaultCurrency
	}
	return currency
}

func messageDate(msg model.InboundMessage, fallback time.Time) time.Time {
	if msg.ReceivedAt.IsZero() {
		return fallback
	}
	return msg.ReceivedAt
}
