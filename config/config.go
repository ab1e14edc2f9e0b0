package config

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

type (
	// PinningService configures a remote IPFS pinning service. AccessToken
	// may be a literal token or the name of an environment variable
	// prefixed with "env:" or "$$".
	PinningService struct {
		Name        string `yaml:"name" envconfig:"NAME"`
		Endpoint    string `yaml:"endpoint" envconfig:"ENDPOINT"`
		AccessToken string `yaml:"accessToken" envconfig:"ACCESSTOKEN"`
	}

	// Pin contains settings for waiting on remote pin requests.
	Pin struct {
		// PollInterval is the delay between status checks.
		PollInterval time.Duration `yaml:"pollInterval"`
		// Timeout is the maximum time to wait for a pin request to reach a
		// terminal status. Zero disables the timeout.
		Timeout time.Duration `yaml:"timeout"`
	}

	// IPFSPeer contains the configuration for additional IPFS peers
	IPFSPeer struct {
		ID        peer.ID  `yaml:"id"`
		Addresses []string `yaml:"addresses"`
	}

	// IPFS contains the configuration for the local IPFS node
	IPFS struct {
		PrivateKey        string     `yaml:"privateKey"`
		ListenAddresses   []string   `yaml:"listenAddresses"`
		AnnounceAddresses []string   `yaml:"announceAddresses"`
		Peers             []IPFSPeer `yaml:"peers"`
		// DHTMode is "client", "server" or "auto". Defaults to client.
		DHTMode string `yaml:"dhtMode"`
		// Bootstrap connects to the default IPFS bootstrap peers on start.
		Bootstrap bool `yaml:"bootstrap"`
	}

	// API contains the listen address of the API server
	API struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
	}

	// Log contains the log settings
	Log struct {
		Level string `yaml:"level"`
	}

	// Config contains the configuration for minty
	Config struct {
		// DefaultService is the name of the pinning service used when none
		// is specified. If empty, the first service is used.
		DefaultService string           `yaml:"defaultService"`
		Pinning        []PinningService `yaml:"pinning"`
		Pin            Pin              `yaml:"pin"`
		IPFS           IPFS             `yaml:"ipfs"`
		API            API              `yaml:"api"`
		Log            Log              `yaml:"log"`
	}
)
