package transport

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// CredentialKind selects how a remote is authenticated.
type CredentialKind uint8

const (
	// CredentialDefault uses whatever the transport finds on its own.
	CredentialDefault CredentialKind = iota
	CredentialSSHAgent
	CredentialUserPass
	CredentialSSHKeyMemory
)

// Credentials are supplied by a CredentialsProvider for one operation and
// are never stored.
type Credentials struct {
	Kind     CredentialKind
	Username string
	Password string
	// PrivateKey is PEM data for CredentialSSHKeyMemory; Password is its
	// passphrase when the key is encrypted.
	PrivateKey []byte
}

func Default() Credentials { return Credentials{Kind: CredentialDefault} }

func SSHAgent(user string) Credentials {
	return Credentials{Kind: CredentialSSHAgent, Username: user}
}

func UserPass(user, password string) Credentials {
	return Credentials{Kind: CredentialUserPass, Username: user, Password: password}
}

func SSHKeyMemory(user string, pem []byte, passphrase string) Credentials {
	return Credentials{Kind: CredentialSSHKeyMemory, Username: user, PrivateKey: pem, Password: passphrase}
}

// CredentialsProvider is called when a transport needs credentials for
// url. user is the username from the URL, if any.
type CredentialsProvider func(url, user string) (Credentials, error)

// ErrNoAgent is returned when SSH agent credentials are requested but no
// agent socket is available.
var ErrNoAgent = errors.New("transport: SSH agent not available")

// SSHAuth converts credentials into an SSH authentication method.
// CredentialDefault tries the agent.
func SSHAuth(c Credentials) (ssh.AuthMethod, error) {
	switch c.Kind {
	case CredentialUserPass:
		return ssh.Password(c.Password), nil
	case CredentialSSHKeyMemory:
		var signer ssh.Signer
		var err error
		if c.Password != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(c.PrivateKey, []byte(c.Password))
		} else {
			signer, err = ssh.ParsePrivateKey(c.PrivateKey)
		}
		if err != nil {
			return nil, fmt.Errorf("parse SSH key: %w", err)
		}
		return ssh.PublicKeys(signer), nil
	case CredentialSSHAgent, CredentialDefault:
		sock := os.Getenv("SSH_AUTH_SOCK")
		if sock == "" {
			return nil, ErrNoAgent
		}
		conn, err := net.Dial("unix", sock)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoAgent, err)
		}
		return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil
	default:
		return nil, fmt.Errorf("transport: unknown credential kind %d", c.Kind)
	}
}

// ClientConfig builds an SSH client configuration for ep using creds.
// Host keys are checked by hostKey; nil rejects every host.
func ClientConfig(ep Endpoint, creds CredentialsProvider, hostKey ssh.HostKeyCallback) (*ssh.ClientConfig, error) {
	c := Default()
	if creds != nil {
		var err error
		if c, err = creds(ep.Raw, ep.User); err != nil {
			return nil, fmt.Errorf("credentials for %s: %w", ep.Raw, err)
		}
	}
	auth, err := SSHAuth(c)
	if err != nil {
		return nil, err
	}
	user := c.Username
	if user == "" {
		user = ep.User
	}
	if hostKey == nil {
		hostKey = func(string, net.Addr, ssh.PublicKey) error {
			return fmt.Errorf("transport: host key verification is not configured")
		}
	}
	return &ssh.ClientConfig{User: user, Auth: []ssh.AuthMethod{auth}, HostKeyCallback: hostKey}, nil
}
