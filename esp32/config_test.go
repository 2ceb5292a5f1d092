package esp32_test

import (
	"errors"
	"testing"
	"time"

	"i4.energy/across/espat/esp32"
)

func TestConfig(t *testing.T) {
	t.Run("ErrNoDialer when no dialer provided", func(t *testing.T) {
		_, err := esp32.NewConfigBuilder().Build()

		if err != esp32.ErrNoDialer {
			t.Errorf("expected ErrNoDialer, got: %v", err)
		}
	})

	t.Run("Defaults", func(t *testing.T) {
		config, err := testConfig().
			WithDialer(esp32.TestDialer{Transport: esp32.NewTestTransport()}).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		if config.BaudRate != esp32.DefaultBaudRate {
			t.Errorf("expected %d baud, got: %d", esp32.DefaultBaudRate, config.BaudRate)
		}
		if config.WifiMode != esp32.ModeStation {
			t.Errorf("expected station mode, got: %d", config.WifiMode)
		}
		if config.BLERole != esp32.BLERoleServer {
			t.Errorf("expected server role, got: %s", config.BLERole)
		}
		if config.ConnectTimeout != 15*time.Second || config.OpenTimeout != 500*time.Millisecond {
			t.Errorf("unexpected timeouts: %v/%v", config.ConnectTimeout, config.OpenTimeout)
		}
		if config.EnableBLE {
			t.Error("BLE should be disabled by default")
		}
	})

	t.Run("Invalid values are rejected", func(t *testing.T) {
		dialer := esp32.TestDialer{Transport: esp32.NewTestTransport()}
		tests := []struct {
			name    string
			builder *esp32.ConfigBuilder
			target  error
		}{
			{"wifi mode", esp32.NewConfigBuilder().WithDialer(dialer).WithWifiMode(7), esp32.ErrInvalidMode},
			{"BLE role", esp32.NewConfigBuilder().WithDialer(dialer).WithBLE(5), esp32.ErrInvalidRole},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				_, err := tc.builder.Build()
				if !errors.Is(err, tc.target) {
					t.Errorf("expected %v, got: %v", tc.target, err)
				}
			})
		}
	})
}
