package dto

import "time"

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error     string    `json:"error" example:"Duplicate message"`
	Code      string    `json:"code,omitempty" example:"DUPLICATE"`
	Message   string    `json:"message" example:"duplicate message: dedup_key order-42"`
	Timestamp time.Time `json:"timestamp" example:"2025-01-18T12:34:56Z"`
}
