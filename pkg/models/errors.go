package models

import "fmt"

func errRequired(field string) error {
	return fmt.Errorf("%s is required", field)
}

func errDimension(field string, got, want int) error {
	return fmt.Errorf("%s has dimension %d, want %d", field, got, want)
}
