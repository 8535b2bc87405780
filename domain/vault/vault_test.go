package vault

import (
	"errors"
	"testing"
)

func TestValidateKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key     string
		wantErr bool
	}{
		{"OPENAI_API_KEY", false},
		{"_private", false},
		{"db2_password", false},
		{"", true},
		{"2FA_CODE", true},
		{"api-key", true},
		{"KEY=VALUE", true},
		{"with space", true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Parallel()

			err := ValidateKey(tt.key)
			if tt.wantErr && !errors.Is(err, ErrInvalidKey) {
				t.Errorf("ValidateKey(%q) error = %v, want ErrInvalidKey", tt.key, err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateKey(%q) error = %v", tt.key, err)
			}
		})
	}
}
