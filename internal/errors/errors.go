// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

var ErrUnauthorized = errors.New("unauthorized")

// ErrCampaignNotFound is returned when a campaign row does not exist
type ErrCampaignNotFound struct {
	CampaignID int64
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int64) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

type ErrProspectNotFound struct {
	ProspectID int64
}

func (e *ErrProspectNotFound) Error() string {
	return fmt.Sprintf("prospect with ID %d not found", e.ProspectID)
}

func NewProspectNotFound(id int64) error {
	return &ErrProspectNotFound{ProspectID: id}
}

type ErrAccountNotFound struct {
	AccountID int64
}

func (e *ErrAccountNotFound) Error() string {
	return fmt.Sprintf("account with ID %d not found", e.AccountID)
}

func NewAccountNotFound(id int64) error {
	return &ErrAccountNotFound{AccountID: id}
}

// IsNotFound reports whether err is any of the not-found errors above.
func IsNotFound(err error) bool {
	var c *ErrCampaignNotFound
	var p *ErrProspectNotFound
	var a *ErrAccountNotFound
	return errors.As(err, &c) || errors.As(err, &p) || errors.As(err, &a)
}

// ProviderError is a failure reported by the messaging provider. The free-text
// Message is matched by the outcome classifier, so it is kept verbatim.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.StatusCode, e.Message)
}

func NewProviderError(status int, message string) error {
	return &ProviderError{StatusCode: status, Message: message}
}

// AsProviderError unwraps err into a *ProviderError when it carries one.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ErrInvalidState is returned when an operation does not apply to the
// current status of a campaign or prospect.
var ErrInvalidState = errors.New("invalid state for operation")
