// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-biokey.
//
// go-biokey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package software

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jeremyhahn/go-biokey/pkg/types"
)

// selfSign issues the certificate that carries the public key. Legacy specs
// supply their own subject, serial and window; modern keys get CN=<alias>, a
// random serial and the legacy 100-year window.
func (s *Store) selfSign(spec types.GenerationSpec, key *rsa.PrivateKey, now time.Time) ([]byte, error) {
	var (
		subject   pkix.Name
		serial    *big.Int
		notBefore time.Time
		notAfter  time.Time
		err       error
	)

	switch sp := spec.(type) {
	case *types.LegacySpec:
		subject, err = parseSubject(sp.Subject)
		if err != nil {
			return nil, err
		}
		serial = sp.SerialNumber
		notBefore = sp.NotBefore
		notAfter = sp.NotAfter
	default:
		subject = pkix.Name{CommonName: spec.KeyAlias().String()}
		serial, err = randomSerial(s)
		if err != nil {
			return nil, err
		}
		notBefore = now
		notAfter = now.AddDate(types.LegacyCertificateYears, 0, 0)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject,
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDataEncipherment | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(s.cfg.Rand, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), nil
}

func randomSerial(s *Store) (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(s.cfg.Rand, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serial.Add(serial, big.NewInt(1)), nil
}

func decodeCertificate(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("stored certificate is not PEM encoded")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

// parseSubject reads a simple comma separated distinguished name such as
// "CN=KEY_ALIAS, O=Example".
func parseSubject(dn string) (pkix.Name, error) {
	var name pkix.Name
	for _, part := range strings.Split(dn, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return name, fmt.Errorf("invalid subject component %q", part)
		}
		v = strings.TrimSpace(v)
		switch strings.ToUpper(strings.TrimSpace(k)) {
		case "CN":
			name.CommonName = v
		case "O":
			name.Organization = append(name.Organization, v)
		case "OU":
			name.OrganizationalUnit = append(name.OrganizationalUnit, v)
		case "C":
			name.Country = append(name.Country, v)
		case "L":
			name.Locality = append(name.Locality, v)
		case "ST":
			name.Province = append(name.Province, v)
		default:
			return name, fmt.Errorf("unsupported subject attribute %q", k)
		}
	}
	if name.CommonName == "" {
		return name, fmt.Errorf("subject %q has no common name", dn)
	}
	return name, nil
}
