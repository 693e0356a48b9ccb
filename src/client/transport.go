package client

import (
	"net"
	"time"
)

type NetworkConfig struct {
	DialTimeout  time.Duration
	ReplyTimeout time.Duration // bound on one request/response exchange
	KeepAlive    bool
	BufferSize   int
}

func DefaultNetworkConfig() *NetworkConfig {
	return &NetworkConfig{
		DialTimeout:  time.Second * 5,
		ReplyTimeout: time.Second * 2,
		KeepAlive:    true,
		BufferSize:   4096,
	}
}

type Transport struct {
	config *NetworkConfig
	dialer *net.Dialer
}

func NewTransport(config *NetworkConfig) *Transport {
	keepAlive := time.Duration(-1) // disabled
	if config.KeepAlive {
		keepAlive = time.Second * 30
	}
	return &Transport{
		config: config,
		dialer: &net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: keepAlive,
		},
	}
}

func (t *Transport) Dial(address string) (net.Conn, error) {
	return t.dialer.Dial("tcp", address)
}
