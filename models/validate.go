package models

import (
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validate runs the struct's `validate` tags.
func Validate(v interface{}) error {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate.Struct(v)
}

// ValidateAttachments checks every attachment of a message.
func ValidateAttachments(attachments []Attachment) error {
	for i := range attachments {
		if err := Validate(&attachments[i]); err != nil {
			return err
		}
	}
	return nil
}
