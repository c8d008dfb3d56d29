package utils

import "github.com/google/uuid"

// GenerateID returns a fresh UUID string. All entity primary keys go
// through here so tests can recognise the format.
func GenerateID() string {
	return uuid.New().String()
}

// IsUUID checks if the string is a valid UUID
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
