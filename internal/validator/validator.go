package validator

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxContentLength = 4000
	maxTitleLength   = 128
)

func Content(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("empty_content")
	}

	if !utf8.ValidString(content) {
		return fmt.Errorf("bad_encoding")
	}

	if utf8.RuneCountInString(content) > maxContentLength {
		return fmt.Errorf("long_content")
	}

	for _, r := range content {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return fmt.Errorf("control_character")
		}
	}
	return nil
}

func Title(title string) error {
	if utf8.RuneCountInString(title) > maxTitleLength {
		return fmt.Errorf("long_title")
	}

	if strings.ContainsAny(title, "\r\n") {
		return fmt.Errorf("multiline_title")
	}
	return nil
}
