package commands

import (
	"testing"

	"github.com/spf13/viper"
)

func TestPortArg(t *testing.T) {
	viper.Set("test.port", 7000)
	defer viper.Set("test.port", nil)

	tests := []struct {
		arg     string
		want    int
		wantErr bool
	}{
		{"", 7000, false},
		{"8080", 8080, false},
		{"0", 0, true},
		{"70000", 0, true},
		{"seven", 0, true},
	}

	for _, tt := range tests {
		got, err := portArg(tt.arg, "test.port")
		if (err != nil) != tt.wantErr {
			t.Errorf("portArg(%q) error = %v; wantErr %v", tt.arg, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("portArg(%q) = %d; want %d", tt.arg, got, tt.want)
		}
	}
}
