package tcpstack

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config carries the stack's tunable constants: segment size, retransmission
// timing, buffer sizes, and the ephemeral port range.
type Config struct {
	MSS                int           `env:"TCPSTACK_MSS, default=1460"`
	RetransmitTimeout  time.Duration `env:"TCPSTACK_RETRANSMIT_TIMEOUT, default=3s"`
	MaxRetransmits     int           `env:"TCPSTACK_MAX_RETRANSMITS, default=5"`
	TimerInterval      time.Duration `env:"TCPSTACK_TIMER_INTERVAL, default=100ms"`
	TimeWaitDuration   time.Duration `env:"TCPSTACK_TIME_WAIT_DURATION, default=60s"`
	RecvBufferSize     int           `env:"TCPSTACK_RECV_BUFFER_SIZE, default=65536"`
	EphemeralPortLo    int           `env:"TCPSTACK_PORT_LO, default=40000"`
	EphemeralPortHi    int           `env:"TCPSTACK_PORT_HI, default=60000"`
	SocketRecvBufBytes int           `env:"TCPSTACK_SOCKET_RECV_BUF, default=262144"`
	SocketSendBufBytes int           `env:"TCPSTACK_SOCKET_SEND_BUF, default=262144"`
}

// DefaultConfig returns the stack's constants without consulting the
// environment.
func DefaultConfig() Config {
	return Config{
		MSS:                1460,
		RetransmitTimeout:  3 * time.Second,
		MaxRetransmits:     5,
		TimerInterval:      100 * time.Millisecond,
		TimeWaitDuration:   60 * time.Second,
		RecvBufferSize:     65536,
		EphemeralPortLo:    40000,
		EphemeralPortHi:    60000,
		SocketRecvBufBytes: 262144,
		SocketSendBufBytes: 262144,
	}
}

// LoadConfig overlays environment variables (TCPSTACK_*) onto DefaultConfig.
func LoadConfig(ctx context.Context) (Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
