// Package e2e 为 ws 连接提供端到端加密
//
// 握手：客户端在 authenticate 数据中携带 X25519 公钥 {"publicKey": base64}，
// 服务端生成临时密钥对，用 HKDF-SHA256 从共享秘密派生会话密钥，
// 并在 connected 事件的 serverPublicKey 中返回自己的公钥。
//
// 出站消息以 XChaCha20-Poly1305 加密，包装为 encrypted 事件：
//
//	{"event":"encrypted","data":{"nonce":"<base64>","ciphertext":"<base64>"}}
//
// 密文的附加认证数据是连接 id，同一会话密钥的密文不能挪到别的连接上解密。
package e2e

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/tokmz/qiws/pkg/errors"
	"github.com/tokmz/qiws/pkg/ws"
)

// KeySize 会话密钥与 X25519 密钥长度
const KeySize = 32

var hkdfInfo = []byte("qiws.e2e.session.v1")

var (
	ErrInvalidKey = errors.New(6001, "e2e: invalid public key")
	ErrNoSession  = errors.New(6002, "e2e: no session for connection")
	ErrDecrypt    = errors.New(6003, "e2e: decryption failed")
	ErrRandom     = errors.New(6004, "e2e: random source failed")
)

// HandshakeRequest authenticate 数据中的握手字段
type HandshakeRequest struct {
	PublicKey string `json:"publicKey"`
}

// Sealed encrypted 事件的数据
type Sealed struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Keyring 服务端会话密钥表，按连接 id 索引
type Keyring struct {
	mu       sync.RWMutex
	sessions map[string]*session
	rand     io.Reader
}

type session struct {
	key [KeySize]byte
}

// Option Keyring 选项
type Option func(*Keyring)

// WithRandom 替换随机源
func WithRandom(r io.Reader) Option {
	return func(k *Keyring) {
		k.rand = r
	}
}

// NewKeyring 创建密钥表
func NewKeyring(opts ...Option) *Keyring {
	k := &Keyring{
		sessions: make(map[string]*session),
		rand:     rand.Reader,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Handshake 返回 ws 握手回调
// 数据中没有 publicKey 时返回 (nil, nil)，连接保持明文
func (k *Keyring) Handshake() ws.HandshakeFunc {
	return func(ctx context.Context, c *ws.Connection, data json.RawMessage) (*ws.HandshakeResult, error) {
		var req HandshakeRequest
		if len(data) > 0 {
			if err := json.Unmarshal(data, &req); err != nil {
				return nil, ErrInvalidKey.WithError(err)
			}
		}
		if req.PublicKey == "" {
			return nil, nil
		}

		peer, err := decodeKey(req.PublicKey)
		if err != nil {
			return nil, err
		}

		priv, pub, err := generateKeyPair(k.rand)
		if err != nil {
			return nil, err
		}
		key, err := deriveSessionKey(priv, peer, peer, pub)
		if err != nil {
			return nil, err
		}

		k.mu.Lock()
		k.sessions[c.ID()] = &session{key: key}
		k.mu.Unlock()

		// 连接在握手期间关闭时 Disconnected 可能已先执行
		if err := ctx.Err(); err != nil {
			k.Forget(c.ID())
			return nil, err
		}

		return &ws.HandshakeResult{PublicKey: base64.StdEncoding.EncodeToString(pub)}, nil
	}
}

// Transform 返回出站转换回调
// 没有会话的连接返回 (nil, nil)，使用原消息
func (k *Keyring) Transform() ws.OutboundTransformFunc {
	return func(ctx context.Context, c *ws.Connection, env *ws.Envelope) (*ws.Envelope, error) {
		k.mu.RLock()
		s, ok := k.sessions[c.ID()]
		k.mu.RUnlock()
		if !ok {
			return nil, nil
		}

		plaintext, err := json.Marshal(env)
		if err != nil {
			return nil, err
		}
		sealed, err := seal(s.key, k.rand, plaintext, []byte(c.ID()))
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(sealed)
		if err != nil {
			return nil, err
		}
		return &ws.Envelope{Event: ws.EventEncrypted, Data: data, ID: env.ID}, nil
	}
}

// Disconnected 返回断开回调，释放会话密钥
func (k *Keyring) Disconnected() ws.ClientDisconnectedFunc {
	return func(c *ws.Connection, code int, reason string) {
		k.Forget(c.ID())
	}
}

// Forget 删除连接的会话
func (k *Keyring) Forget(connID string) {
	k.mu.Lock()
	delete(k.sessions, connID)
	k.mu.Unlock()
}

// Sessions 当前会话数
func (k *Keyring) Sessions() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.sessions)
}

// Client 客户端会话（用于 Go 客户端与测试）
type Client struct {
	priv []byte
	pub  []byte
	key  *[KeySize]byte
}

// NewClient 生成客户端密钥对
func NewClient() (*Client, error) {
	priv, pub, err := generateKeyPair(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Client{priv: priv, pub: pub}, nil
}

// PublicKey base64 编码的客户端公钥，放进 authenticate 数据
func (c *Client) PublicKey() string {
	return base64.StdEncoding.EncodeToString(c.pub)
}

// Establish 用 connected 事件中的服务端公钥派生会话密钥
func (c *Client) Establish(serverPublicKey string) error {
	peer, err := decodeKey(serverPublicKey)
	if err != nil {
		return err
	}
	key, err := deriveSessionKey(c.priv, peer, c.pub, peer)
	if err != nil {
		return err
	}
	c.key = &key
	return nil
}

// Open 解密 encrypted 事件，返回原始消息
func (c *Client) Open(connID string, env *ws.Envelope) (*ws.Envelope, error) {
	if c.key == nil {
		return nil, ErrNoSession
	}
	if env.Event != ws.EventEncrypted {
		return env, nil
	}

	var sealed Sealed
	if err := json.Unmarshal(env.Data, &sealed); err != nil {
		return nil, ErrDecrypt.WithError(err)
	}
	plaintext, err := open(*c.key, sealed, []byte(connID))
	if err != nil {
		return nil, err
	}

	var inner ws.Envelope
	if err := json.Unmarshal(plaintext, &inner); err != nil {
		return nil, ErrDecrypt.WithError(err)
	}
	return &inner, nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidKey.WithError(err)
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKey.WithError(fmt.Errorf("key is %d bytes, want %d", len(key), KeySize))
	}
	return key, nil
}

func generateKeyPair(r io.Reader) (priv, pub []byte, err error) {
	priv = make([]byte, KeySize)
	if _, err := io.ReadFull(r, priv); err != nil {
		return nil, nil, ErrRandom.WithError(err)
	}
	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, ErrRandom.WithError(err)
	}
	return priv, pub, nil
}

// deriveSessionKey X25519 共享秘密经 HKDF-SHA256 派生会话密钥
// salt 为客户端公钥与服务端公钥的拼接，两端顺序一致
func deriveSessionKey(priv, peer, clientPub, serverPub []byte) ([KeySize]byte, error) {
	var key [KeySize]byte

	shared, err := curve25519.X25519(priv, peer)
	if err != nil {
		// 低阶点会得到全零共享秘密
		return key, ErrInvalidKey.WithError(err)
	}

	salt := make([]byte, 0, len(clientPub)+len(serverPub))
	salt = append(salt, clientPub...)
	salt = append(salt, serverPub...)

	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, hkdfInfo), key[:]); err != nil {
		return key, fmt.Errorf("derive session key: %w", err)
	}
	return key, nil
}

func seal(key [KeySize]byte, r io.Reader, plaintext, aad []byte) (*Sealed, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(r, nonce); err != nil {
		return nil, ErrRandom.WithError(err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, aad)
	return &Sealed{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

func open(key [KeySize]byte, sealed Sealed, aad []byte) ([]byte, error) {
	nonce, err := base64.StdEncoding.DecodeString(sealed.Nonce)
	if err != nil || len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrDecrypt.WithMessage("e2e: invalid nonce")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(sealed.Ciphertext)
	if err != nil {
		return nil, ErrDecrypt.WithError(err)
	}

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecrypt.WithError(err)
	}
	return plaintext, nil
}
