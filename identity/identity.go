// Package identity manages a node's key pair: the key from which a node
// derives the NodeInfo.ID it presents to peers. Items are not signed with it.
package identity

import (
	"github.com/modsagraphy/universa/crypto"
)

// Identity holds a node's key pair.
type Identity struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New wraps an existing private key as an Identity.
func New(priv crypto.PrivateKey) *Identity {
	return &Identity{priv: priv, pub: priv.Public()}
}

// Generate creates an Identity with a freshly generated key pair.
func Generate() (*Identity, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (id *Identity) PrivKey() crypto.PrivateKey { return id.priv }

// PubKey returns the hex-encoded public key.
func (id *Identity) PubKey() string { return id.pub.Hex() }

// NodeID returns the short human-readable node identifier derived from the
// public key, used as the NodeInfo.ID peers see on the wire.
func (id *Identity) NodeID() string { return id.pub.Address() }

// Sign signs data with the node's private key.
func (id *Identity) Sign(data []byte) string {
	return crypto.Sign(id.priv, data)
}
