package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/karigari/api/internal/domain"
	"github.com/karigari/api/internal/platform/pagination"
	"github.com/karigari/api/internal/services"
)

const defaultMaxBodySize = 64 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is empty")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultMaxBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func pointerTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// parsePagination reads page_size / page_token query params, clamping the size
// into (0, max].
func parsePagination(r *http.Request, fallback, max int) (domain.Pagination, error) {
	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: fallback,
		MaxPageSize:     max,
	})
	if err != nil {
		return domain.Pagination{}, errors.New("page_size must be an integer")
	}
	return domain.Pagination{
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	}, nil
}

type addressPayload struct {
	FullName     string `json:"full_name"`
	Phone        string `json:"phone"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state"`
	Pincode      string `json:"pincode"`
	Country      string `json:"country,omitempty"`
	IsDefault    bool   `json:"is_default,omitempty"`
}

func buildAddressPayload(addr services.Address) addressPayload {
	return addressPayload{
		FullName:     addr.FullName,
		Phone:        addr.Phone,
		AddressLine1: addr.AddressLine1,
		AddressLine2: addr.AddressLine2,
		City:         addr.City,
		State:        addr.State,
		Pincode:      addr.Pincode,
		Country:      addr.Country,
		IsDefault:    addr.IsDefault,
	}
}

func (p addressPayload) toDomain() services.Address {
	return services.Address{
		FullName:     strings.TrimSpace(p.FullName),
		Phone:        strings.TrimSpace(p.Phone),
		AddressLine1: strings.TrimSpace(p.AddressLine1),
		AddressLine2: strings.TrimSpace(p.AddressLine2),
		City:         strings.TrimSpace(p.City),
		State:        strings.TrimSpace(p.State),
		Pincode:      strings.TrimSpace(p.Pincode),
		Country:      strings.TrimSpace(p.Country),
		IsDefault:    p.IsDefault,
	}
}
