// crypto.go: digest, HMAC, random token and password hashing helpers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// SHA256Hex returns the hex-encoded SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SHA256Base64 returns the standard base64 encoding of the SHA-256
// digest of data.
func SHA256Base64(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// SHA512Hex returns the hex-encoded SHA-512 digest of data.
func SHA512Hex(data []byte) string {
	sum := sha512.Sum512(data)
	return hex.EncodeToString(sum[:])
}

// MD5Hex returns the hex-encoded MD5 digest of data. MD5 is broken as
// a cryptographic hash; this exists only for interop with legacy
// systems that still key on MD5 checksums.
func MD5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// HMACSHA256 returns the hex-encoded HMAC-SHA256 of data under key.
func HMACSHA256(key, data []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMACSHA256 reports whether signature is the HMAC-SHA256 of
// data under key. The comparison is constant time.
func VerifyHMACSHA256(key, data []byte, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hmac.Equal(mac.Sum(nil), expected)
}

// RandomBytes returns n cryptographically random bytes. A failing
// entropy source reports ErrCodeCryptoRandom; the result is never
// truncated.
func RandomBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, NewConfigInvalidError("length", "must be positive")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, NewCryptoRandomError(err)
	}
	return buf, nil
}

// RandomToken returns a URL-safe base64 token built from n random
// bytes, suitable for session identifiers and API keys.
func RandomToken(n int) (string, error) {
	buf, err := RandomBytes(n)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// RandomHex returns the hex encoding of n random bytes.
func RandomHex(n int) (string, error) {
	buf, err := RandomBytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// HashPassword hashes a plaintext password with bcrypt at the default
// cost. The result embeds its own salt and cost and can be stored
// as-is.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", NewCryptoRandomError(err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches a bcrypt hash
// produced by HashPassword. The underlying comparison is constant
// time.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ConstantTimeEquals compares two strings in constant time. Use it for
// secrets; for ordinary strings == is fine.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
