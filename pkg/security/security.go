// Package security выдает security control для каждого типа медиа сессии.
// Control хранит самоподписанный DTLS сертификат; hello hash, объявляемый
// в SDP, является SHA-256 отпечатком этого сертификата.
package security

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"strings"
	"sync"

	"github.com/arzzra/sdp_negotiator/pkg/negotiation"
	"github.com/pion/dtls/v2/pkg/crypto/fingerprint"
	"github.com/pion/dtls/v2/pkg/crypto/selfsign"
)

// ProtocolVersion версия протокола в hello hash
const ProtocolVersion = "1.10"

// Control security control одного типа медиа
type Control struct {
	mediaType   negotiation.MediaType
	certificate tls.Certificate
	helloHash   string
}

// MediaType возвращает тип медиа control
func (c *Control) MediaType() negotiation.MediaType {
	return c.mediaType
}

// HelloHash возвращает "<версия> <отпечаток>" для атрибута SDP
func (c *Control) HelloHash() (string, error) {
	return c.helloHash, nil
}

// Factory создает control для типов медиа, реализует negotiation.SecurityControlFactory
type Factory struct {
	mutex    sync.Mutex
	controls map[negotiation.MediaType]*Control
}

// NewFactory создает фабрику
func NewFactory() *Factory {
	return &Factory{controls: make(map[negotiation.MediaType]*Control)}
}

// CreateControl создает control для типа медиа.
// Для уже созданного типа возвращается существующий control.
func (f *Factory) CreateControl(mediaType negotiation.MediaType) (negotiation.SecurityControl, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if c, ok := f.controls[mediaType]; ok {
		return c, nil
	}

	certificate, err := selfsign.GenerateSelfSigned()
	if err != nil {
		return nil, fmt.Errorf("не удалось создать сертификат для %s: %w", mediaType, err)
	}

	hash, err := Fingerprint(certificate)
	if err != nil {
		return nil, err
	}

	c := &Control{
		mediaType:   mediaType,
		certificate: certificate,
		helloHash:   ProtocolVersion + " " + hash,
	}
	f.controls[mediaType] = c
	return c, nil
}

// Fingerprint возвращает SHA-256 отпечаток сертификата в виде hex без разделителей
func Fingerprint(certificate tls.Certificate) (string, error) {
	if len(certificate.Certificate) == 0 {
		return "", fmt.Errorf("сертификат пуст")
	}

	leaf, err := x509.ParseCertificate(certificate.Certificate[0])
	if err != nil {
		return "", fmt.Errorf("не удалось разобрать сертификат: %w", err)
	}

	value, err := fingerprint.Fingerprint(leaf, crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("не удалось вычислить отпечаток: %w", err)
	}
	return strings.ToLower(strings.ReplaceAll(value, ":", "")), nil
}
