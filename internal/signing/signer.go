package signing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"golang.org/x/crypto/hkdf"

	"github.com/yourorg/efile/internal/credential"
	"github.com/yourorg/efile/internal/mef"
)

const (
	DigestMethodSHA256  = "http://www.w3.org/2001/04/xmlenc#sha256"
	SignatureMethodHMAC = "http://www.w3.org/2001/04/xmldsig-more#hmac-sha256"
)

var (
	ErrAlreadySigned     = errors.New("document is already signed")
	ErrNotSigned         = errors.New("document is not signed")
	ErrPINRequired       = errors.New("preparer PIN is required")
	ErrNoKeyIdentifier   = errors.New("either PTIN or EFIN is required")
	ErrDigestMismatch    = errors.New("return data digest does not match signature")
	ErrSignatureMismatch = errors.New("signature value does not match")
)

// Credentials identify who signs. PTIN is optional; EFIN is the fallback key id.
type Credentials struct {
	EFIN string
	PTIN string
	PIN  string
}

// SignedDocument is a document with its signature block attached.
type SignedDocument struct {
	Document mef.Document
	KeyID    string
	Digest   string
	Preparer *credential.PreparerCredential
}

// Signer attaches XML-DSig shaped signature blocks.
type Signer struct {
	Registry credential.Registry
	Logger   *slog.Logger
}

func NewSigner(reg credential.Registry, logger *slog.Logger) *Signer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Signer{Registry: reg, Logger: logger}
}

// Sign returns a signed copy of doc; doc itself is left untouched.
func (s *Signer) Sign(ctx context.Context, doc mef.Document, creds Credentials) (SignedDocument, error) {
	if doc.Signed() {
		return SignedDocument{}, ErrAlreadySigned
	}
	if creds.PIN == "" {
		return SignedDocument{}, ErrPINRequired
	}
	keyID := strings.TrimSpace(creds.PTIN)
	if keyID == "" {
		keyID = strings.TrimSpace(creds.EFIN)
	}
	if keyID == "" {
		return SignedDocument{}, ErrNoKeyIdentifier
	}

	var preparer *credential.PreparerCredential
	if ptin := strings.TrimSpace(creds.PTIN); ptin != "" {
		if s.Registry == nil {
			return SignedDocument{}, &credential.Error{ID: ptin, Err: credential.ErrCredentialNotFound}
		}
		cred, err := credential.RequireActive(ctx, s.Registry, ptin, creds.PIN)
		if err != nil {
			s.logger().Warn("signing refused", "ptin", ptin, "error", err)
			return SignedDocument{}, err
		}
		preparer = &cred
	}

	digest, err := Digest(doc)
	if err != nil {
		return SignedDocument{}, err
	}
	sigValue, err := signatureValue(digest, creds.PIN, keyID)
	if err != nil {
		return SignedDocument{}, err
	}

	block := &mef.SignatureBlock{
		SignedInfo: mef.SignedInfo{
			CanonicalizationMethod: mef.AlgorithmRef{Algorithm: string(dsig.CanonicalXML10ExclusiveAlgorithmId)},
			SignatureMethod:        mef.AlgorithmRef{Algorithm: SignatureMethodHMAC},
			Reference: mef.Reference{
				URI:          "#" + mef.ReturnDataID,
				DigestMethod: mef.AlgorithmRef{Algorithm: DigestMethodSHA256},
				DigestValue:  digest,
			},
		},
		SignatureValue: sigValue,
		KeyInfo:        mef.KeyInfo{KeyName: keyID},
	}
	if preparer != nil {
		block.KeyInfo.PreparerName = preparer.DisplayName
		if !preparer.IssuedAt.IsZero() {
			block.KeyInfo.CredentialIssued = preparer.IssuedAt.UTC().Format("2006-01-02")
		}
	}

	signed := doc.Clone()
	signed.Envelope.Signature = block
	s.logger().Info("document signed", "transmissionId", doc.TransmissionID, "keyId", keyID)
	return SignedDocument{Document: signed, KeyID: keyID, Digest: digest, Preparer: preparer}, nil
}

func (s *Signer) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Verify recomputes the digest and signature of a signed document.
func Verify(signed SignedDocument, pin string) error {
	block := signed.Document.Envelope.Signature
	if block == nil {
		return ErrNotSigned
	}
	digest, err := Digest(signed.Document)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(digest), []byte(block.SignedInfo.Reference.DigestValue)) != 1 {
		return ErrDigestMismatch
	}
	expected, err := signatureValue(digest, pin, block.KeyInfo.KeyName)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(block.SignatureValue)) {
		return ErrSignatureMismatch
	}
	return nil
}

// Digest is the base64 SHA-256 of the exclusive canonical form of the
// ReturnData element. Header and taxpayer blocks are outside its scope.
func Digest(doc mef.Document) (string, error) {
	raw, err := doc.MarshalReturnData()
	if err != nil {
		return "", err
	}
	tree := etree.NewDocument()
	if err := tree.ReadFromBytes(raw); err != nil {
		return "", fmt.Errorf("parse return data: %w", err)
	}
	canonical, err := dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("").Canonicalize(tree.Root())
	if err != nil {
		return "", fmt.Errorf("canonicalize return data: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

func signatureValue(digest, pin, keyID string) (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(pin), []byte(keyID), []byte("mef-return-signature")), key); err != nil {
		return "", fmt.Errorf("derive signing key: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(digest))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
