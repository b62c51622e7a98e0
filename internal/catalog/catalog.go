// Package catalog holds the static token-package and payment-method
// catalog. It is read-only at runtime; the ledger treats it as an
// external lookup.
package catalog

import (
	"github.com/aistylehub/tokenledger/internal/models"
	"github.com/shopspring/decimal"
)

const (
	FreeTokensOnSignup  = 10
	LowBalanceThreshold = 5
)

// Token costs per operation.
const (
	CostTryOn            = 1
	CostAIRecommendation = 1
	CostGenerateImage    = 2
	CostCustomModel      = 3
)

var operationCosts = map[string]int64{
	"try_on":            CostTryOn,
	"ai_recommendation": CostAIRecommendation,
	"generate_image":    CostGenerateImage,
	"custom_model":      CostCustomModel,
}

// OperationCost returns the token cost of a named paid operation.
func OperationCost(operation string) (int64, bool) {
	c, ok := operationCosts[operation]
	return c, ok
}

type PaymentMethod struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Enabled     bool     `json:"enabled"`
	Currencies  []string `json:"currencies"`
}

var packages = []models.Package{
	{ID: "starter", Name: "Starter", Tokens: 20, Price: decimal.RequireFromString("4.99"), Currency: "USD", Featured: true},
	{ID: "basic", Name: "Basic", Tokens: 50, Price: decimal.RequireFromString("9.99"), Currency: "USD", Savings: 10},
	{ID: "pro", Name: "Pro", Tokens: 120, Price: decimal.RequireFromString("19.99"), Currency: "USD", Featured: true, Savings: 20},
	{ID: "enterprise", Name: "Enterprise", Tokens: 350, Price: decimal.RequireFromString("49.99"), Currency: "USD", Savings: 30},
	{ID: "starter_vnd", Name: "Starter", Tokens: 20, Price: decimal.NewFromInt(99000), Currency: "VND", Featured: true},
	{ID: "basic_vnd", Name: "Basic", Tokens: 50, Price: decimal.NewFromInt(199000), Currency: "VND", Savings: 10},
	{ID: "pro_vnd", Name: "Pro", Tokens: 120, Price: decimal.NewFromInt(399000), Currency: "VND", Featured: true, Savings: 20},
	{ID: "enterprise_vnd", Name: "Enterprise", Tokens: 350, Price: decimal.NewFromInt(999000), Currency: "VND", Savings: 30},
}

var paymentMethods = []PaymentMethod{
	{ID: "stripe", Name: "Credit/debit card (Stripe)", Description: "Visa, MasterCard, American Express", Enabled: true, Currencies: []string{"USD", "VND"}},
	{ID: "paypal", Name: "PayPal", Description: "Pay with a PayPal account", Enabled: true, Currencies: []string{"USD"}},
	{ID: "momo", Name: "MoMo wallet", Description: "Popular e-wallet in Vietnam", Enabled: true, Currencies: []string{"VND"}},
}

// Package looks up a catalog package by id.
func Package(id string) (models.Package, bool) {
	for _, p := range packages {
		if p.ID == id {
			return p, true
		}
	}
	return models.Package{}, false
}

func Packages() []models.Package {
	out := make([]models.Package, len(packages))
	copy(out, packages)
	return out
}

// PaymentMethods returns the enabled methods, filtered by currency when
// one is given.
func PaymentMethods(currency string) []PaymentMethod {
	var out []PaymentMethod
	for _, m := range paymentMethods {
		if !m.Enabled {
			continue
		}
		if currency != "" && !supports(m, currency) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func supports(m PaymentMethod, currency string) bool {
	for _, c := range m.Currencies {
		if c == currency {
			return true
		}
	}
	return false
}

// SuggestPackage returns the cheapest package covering the given token
// deficit, used to prompt a purchase after an insufficient-balance
// rejection.
func SuggestPackage(deficit int64, currency string) (models.Package, bool) {
	var best models.Package
	found := false
	for _, p := range packages {
		if p.Currency != currency || p.Tokens < deficit {
			continue
		}
		if !found || p.Price.LessThan(best.Price) {
			best = p
			found = true
		}
	}
	return best, found
}
