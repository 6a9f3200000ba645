package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boogy/jwt-forge/pkg/cache"
	"github.com/boogy/jwt-forge/pkg/types"
	"github.com/boogy/jwt-forge/pkg/utils"
	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockS3Reader struct {
	mock.Mock
}

func (m *MockS3Reader) ReadS3URI(ctx context.Context, uri string) ([]byte, error) {
	args := m.Called(uri)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func pemEncode(t *testing.T, blockType string, der []byte) string {
	t.Helper()
	return string(pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}))
}

func pkcs8(t *testing.T, key any) string {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return pemEncode(t, "PRIVATE KEY", der)
}

func pkixPEM(t *testing.T, key any) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(key)
	require.NoError(t, err)
	return pemEncode(t, "PUBLIC KEY", der)
}

func selfSigned(t *testing.T, key *ecdsa.PrivateKey) string {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "forge"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return pemEncode(t, "CERTIFICATE", der)
}

func TestParseKeySet(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	edPub, edKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	ecDER, err := x509.MarshalECPrivateKey(ecKey)
	require.NoError(t, err)

	jwk, err := json.Marshal(jose.JSONWebKey{Key: &ecKey.PublicKey, KeyID: "ec-1", Use: "sig"})
	require.NoError(t, err)
	jwks, err := json.Marshal(types.JWKS{Keys: []jose.JSONWebKey{
		{Key: &rsaKey.PublicKey, KeyID: "rsa-1"},
		{Key: []byte("0123456789abcdef0123456789abcdef"), KeyID: "hmac-1"},
	}})
	require.NoError(t, err)

	tests := []struct {
		name     string
		input    string
		wantKeys int
		check    func(t *testing.T, set *types.JWKS)
		wantErr  error
	}{
		{
			name:     "PKCS#1 RSA private key",
			input:    pemEncode(t, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(rsaKey)),
			wantKeys: 1,
			check: func(t *testing.T, set *types.JWKS) {
				assert.IsType(t, &rsa.PrivateKey{}, set.Keys[0].Key)
			},
		},
		{
			name:     "PKCS#8 RSA private key",
			input:    pkcs8(t, rsaKey),
			wantKeys: 1,
			check: func(t *testing.T, set *types.JWKS) {
				assert.IsType(t, &rsa.PrivateKey{}, set.Keys[0].Key)
			},
		},
		{
			name:     "SEC1 EC private key",
			input:    pemEncode(t, "EC PRIVATE KEY", ecDER),
			wantKeys: 1,
			check: func(t *testing.T, set *types.JWKS) {
				assert.IsType(t, &ecdsa.PrivateKey{}, set.Keys[0].Key)
			},
		},
		{
			name:     "PKCS#8 Ed25519 private key",
			input:    pkcs8(t, edKey),
			wantKeys: 1,
			check: func(t *testing.T, set *types.JWKS) {
				assert.IsType(t, ed25519.PrivateKey{}, set.Keys[0].Key)
			},
		},
		{
			name:     "public keys of every type",
			input:    pkixPEM(t, &rsaKey.PublicKey) + pkixPEM(t, &ecKey.PublicKey) + pkixPEM(t, edPub),
			wantKeys: 3,
			check: func(t *testing.T, set *types.JWKS) {
				assert.IsType(t, &rsa.PublicKey{}, set.Keys[0].Key)
				assert.IsType(t, &ecdsa.PublicKey{}, set.Keys[1].Key)
				assert.IsType(t, ed25519.PublicKey{}, set.Keys[2].Key)
				assert.False(t, set.HasPrivate())
			},
		},
		{
			name:     "certificate",
			input:    selfSigned(t, ecKey),
			wantKeys: 1,
			check: func(t *testing.T, set *types.JWKS) {
				require.Len(t, set.Keys[0].Certificates, 1)
				assert.Equal(t, "forge", set.Keys[0].Certificates[0].Subject.CommonName)
			},
		},
		{
			name:     "single JWK",
			input:    string(jwk),
			wantKeys: 1,
			check: func(t *testing.T, set *types.JWKS) {
				assert.Equal(t, "ec-1", set.Keys[0].KeyID)
				assert.Equal(t, "sig", set.Keys[0].Use)
			},
		},
		{
			name:     "JWK set with a secret",
			input:    "\xef\xbb\xbf" + string(jwks),
			wantKeys: 2,
			check: func(t *testing.T, set *types.JWKS) {
				assert.Equal(t, "hmac-1", set.Keys[1].KeyID)
				assert.True(t, set.HasPrivate())
			},
		},
		{name: "empty", input: "  ", wantErr: types.ErrEmptyKeySet},
		{name: "empty set", input: `{"keys":[]}`, wantErr: types.ErrEmptyKeySet},
		{name: "broken JSON", input: `{"kty":`, wantErr: ErrUnsupportedKey},
		{name: "not a key", input: "hello", wantErr: ErrUnsupportedKey},
		{name: "unknown PEM block", input: pemEncode(t, "DH PARAMETERS", []byte{1, 2}), wantErr: ErrUnsupportedKey},
		{name: "garbage in PEM", input: pemEncode(t, "PRIVATE KEY", []byte{1, 2, 3}), wantErr: ErrUnsupportedKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := ParseKeySet([]byte(tt.input))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Len(t, set.Keys, tt.wantKeys)
			if tt.check != nil {
				tt.check(t, set)
			}
		})
	}
}

func TestLocator_Read(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(path, []byte("file-content"), 0o600))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/jwks":
			_, _ = w.Write([]byte("http-content"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	s3 := new(MockS3Reader)
	s3.On("ReadS3URI", "s3://keys/signing.pem").Return([]byte("s3-content"), nil)

	l := NewLocator(WithS3(s3), WithHTTPClient(server.Client()))

	tests := []struct {
		location string
		want     string
		wantErr  string
	}{
		{location: path, want: "file-content"},
		{location: "file://" + path, want: "file-content"},
		{location: server.URL + "/jwks", want: "http-content"},
		{location: "s3://keys/signing.pem", want: "s3-content"},
		{location: "  -----BEGIN PUBLIC KEY-----\n", want: "-----BEGIN PUBLIC KEY-----"},
		{location: `{"keys":[]}`, want: `{"keys":[]}`},
		{location: "", wantErr: ErrEmptyLocation.Error()},
		{location: filepath.Join(dir, "missing.pem"), wantErr: "unable to open key file"},
		{location: server.URL + "/missing", wantErr: "non-200 status code"},
	}

	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			data, err := l.Read(ctx, tt.location)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}

	t.Run("s3 without reader", func(t *testing.T) {
		_, err := NewLocator().Read(ctx, "s3://keys/x")
		assert.ErrorIs(t, err, ErrNoS3Reader)
	})
}

func TestLocator_ReadSizeLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big")
	require.NoError(t, os.WriteFile(path, make([]byte, 64), 0o600))

	l := NewLocator()
	l.maxSize = 32
	_, err := l.Read(context.Background(), path)
	assert.ErrorContains(t, err, "exceeds 32 bytes")
}

func TestLocator_KeySetCaching(t *testing.T) {
	ctx := context.Background()
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	publicPEM := pkixPEM(t, &ecKey.PublicKey)
	privatePEM := pkcs8(t, ecKey)

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/private" {
			_, _ = w.Write([]byte(privatePEM))
			return
		}
		_, _ = w.Write([]byte(publicPEM))
	}))
	defer server.Close()

	shared := cache.NewMemoryCache(10, time.Hour)
	l := NewLocator(WithHTTPClient(server.Client()), WithCache(shared, time.Hour))

	set, err := l.KeySet(ctx, server.URL+"/public")
	require.NoError(t, err)
	require.Len(t, set.Keys, 1)

	_, err = l.KeySet(ctx, server.URL+"/public")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	_, found := shared.Get(ctx, utils.HashKey("jwks-", server.URL+"/public"))
	assert.True(t, found, "public remote set is shared")

	// a second locator on the same shared cache does not refetch
	other := NewLocator(WithHTTPClient(server.Client()), WithCache(shared, time.Hour))
	_, err = other.KeySet(ctx, server.URL+"/public")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	_, err = l.KeySet(ctx, server.URL+"/private")
	require.NoError(t, err)
	_, found = shared.Get(ctx, utils.HashKey("jwks-", server.URL+"/private"))
	assert.False(t, found, "private sets stay in process")
}

func TestLocator_Keys(t *testing.T) {
	ctx := context.Background()
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	set, err := json.Marshal(types.JWKS{Keys: []jose.JSONWebKey{
		{Key: rsaKey, KeyID: "sig-1", Use: types.UseSignature, Algorithm: "RS256"},
		{Key: ecKey, KeyID: "enc-1", Use: types.UseEncryption, Algorithm: "ECDH-ES"},
		{Key: []byte("0123456789abcdef0123456789abcdef"), KeyID: "hs-1", Use: types.UseSignature},
	}})
	require.NoError(t, err)
	location := filepath.Join(t.TempDir(), "jwks.json")
	require.NoError(t, os.WriteFile(location, set, 0o600))

	l := NewLocator()

	t.Run("signing key keeps private material", func(t *testing.T) {
		key, err := l.SigningKey(ctx, location, "sig-1")
		require.NoError(t, err)
		assert.IsType(t, &rsa.PrivateKey{}, key.Key)
	})

	t.Run("verification key is public", func(t *testing.T) {
		key, err := l.VerificationKey(ctx, location, "sig-1")
		require.NoError(t, err)
		assert.IsType(t, &rsa.PublicKey{}, key.Key)
		assert.Equal(t, "sig-1", key.KeyID)
	})

	t.Run("symmetric verification key", func(t *testing.T) {
		key, err := l.VerificationKey(ctx, location, "hs-1")
		require.NoError(t, err)
		assert.IsType(t, []byte{}, key.Key)
	})

	t.Run("encryption and decryption keys", func(t *testing.T) {
		enc, err := l.EncryptionKey(ctx, location, "")
		require.NoError(t, err)
		assert.IsType(t, &ecdsa.PublicKey{}, enc.Key)

		dec, err := l.DecryptionKey(ctx, location, "")
		require.NoError(t, err)
		assert.IsType(t, &ecdsa.PrivateKey{}, dec.Key)
	})

	t.Run("ambiguous without kid", func(t *testing.T) {
		_, err := l.SigningKey(ctx, location, "")
		assert.ErrorIs(t, err, types.ErrAmbiguousKey)
	})

	t.Run("unknown kid", func(t *testing.T) {
		_, err := l.SigningKey(ctx, location, "nope")
		assert.ErrorIs(t, err, types.ErrKeyNotFound)
	})

	t.Run("public key cannot sign", func(t *testing.T) {
		_, err := l.SigningKey(ctx, pkixPEM(t, &ecKey.PublicKey), "")
		assert.True(t, errors.Is(err, ErrNoPrivateKey))
	})
}
