package checkout

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/safar/storefront/internal/models"
)

var strictPolicy = bluemonday.StrictPolicy()

// clean drops markup from s. The policy escapes what it keeps, so the result
// is unescaped again to store plain text.
func clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(s)))
}

// NormalizeCustomer strips markup and surrounding space from every field and
// checks the required ones.
func NormalizeCustomer(c models.Customer) (models.Customer, error) {
	c = models.Customer{
		Email:     strings.ToLower(clean(c.Email)),
		FirstName: clean(c.FirstName),
		LastName:  clean(c.LastName),
		Phone:     clean(c.Phone),
		Address:   clean(c.Address),
		City:      clean(c.City),
		State:     clean(c.State),
		Zip:       clean(c.Zip),
		Country:   strings.ToUpper(clean(c.Country)),
	}

	fields := map[string]string{}
	required := map[string]string{
		"email":      c.Email,
		"first_name": c.FirstName,
		"last_name":  c.LastName,
		"address":    c.Address,
		"city":       c.City,
		"country":    c.Country,
	}
	for name, value := range required {
		if value == "" {
			fields[name] = "is required"
		}
	}

	if c.Email != "" && !validEmail(c.Email) {
		fields["email"] = "is not a valid email address"
	}
	if c.Country != "" && !validCountry(c.Country) {
		fields["country"] = "must be a two-letter country code"
	}

	if len(fields) > 0 {
		return c, &ValidationError{Fields: fields}
	}
	return c, nil
}

// NormalizeNotes returns nil for blank notes.
func NormalizeNotes(notes *string) *string {
	if notes == nil {
		return nil
	}
	cleaned := clean(*notes)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}

func validEmail(s string) bool {
	at := strings.LastIndex(s, "@")
	return at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " \t")
}

func validCountry(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
