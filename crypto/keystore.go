package crypto

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Scrypt cost used when sealing new keystores.
var (
	KeystoreScryptN = keystore.StandardScryptN
	KeystoreScryptP = keystore.StandardScryptP
)

// ErrKeystoreAddressMismatch is returned when the decrypted key does not
// belong to the address recorded in the keystore file.
var ErrKeystoreAddressMismatch = errors.New("crypto: keystore address does not match key")

type keystoreHeader struct {
	Address string `json:"address"`
}

// SaveToKeystore seals key into a v3 keystore file at path and returns the
// gold address it holds. The file is written next to path and renamed into
// place; missing parent directories are created with 0700 permissions.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) (Address, error) {
	if key == nil || key.PrivateKey == nil {
		return Address{}, errors.New("crypto: nil private key")
	}
	if strings.TrimSpace(path) == "" {
		return Address{}, errors.New("crypto: empty keystore path")
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return Address{}, fmt.Errorf("crypto: keystore id: %w", err)
	}
	address := key.PubKey().Address()
	sealed, err := keystore.EncryptKey(&keystore.Key{
		Id:         id,
		Address:    common.BytesToAddress(address.Bytes()),
		PrivateKey: key.PrivateKey,
	}, passphrase, KeystoreScryptN, KeystoreScryptP)
	if err != nil {
		return Address{}, fmt.Errorf("crypto: seal keystore: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Address{}, err
	}
	tmp, err := os.CreateTemp(dir, ".keystore-*")
	if err != nil {
		return Address{}, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		return Address{}, err
	}
	if err := tmp.Close(); err != nil {
		return Address{}, err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return Address{}, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return Address{}, err
	}
	return address, nil
}

// KeystoreAddress returns the gold address recorded in a keystore file. The
// key is not decrypted, so no passphrase is needed.
func KeystoreAddress(path string) (Address, error) {
	if strings.TrimSpace(path) == "" {
		return Address{}, errors.New("crypto: empty keystore path")
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return Address{}, err
	}
	return recordedAddress(keyJSON)
}

func recordedAddress(keyJSON []byte) (Address, error) {
	var header keystoreHeader
	if err := json.Unmarshal(keyJSON, &header); err != nil {
		return Address{}, fmt.Errorf("crypto: parse keystore: %w", err)
	}
	if !common.IsHexAddress(header.Address) {
		return Address{}, fmt.Errorf("crypto: keystore address %q invalid", header.Address)
	}
	return NewAddress(GoldPrefix, common.HexToAddress(header.Address).Bytes()), nil
}

// LoadFromKeystore decrypts a v3 keystore file and checks that the key matches
// the address recorded alongside it.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("crypto: empty keystore path")
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	recorded, err := recordedAddress(keyJSON)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, err
	}
	key := &PrivateKey{PrivateKey: decrypted.PrivateKey}
	if derived := key.PubKey().Address(); derived.String() != recorded.String() {
		return nil, fmt.Errorf("%w: file records %s, key is %s", ErrKeystoreAddressMismatch, recorded, derived)
	}
	return key, nil
}
