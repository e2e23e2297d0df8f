package signing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/efile/internal/credential"
	"github.com/yourorg/efile/internal/mef"
)

const testPTIN = "P01234567"

func newTestSigner() (*Signer, *credential.InMemoryRegistry) {
	reg := credential.NewInMemoryRegistry(credential.PreparerCredential{
		ID:          testPTIN,
		Kind:        credential.KindPTIN,
		Status:      credential.StatusActive,
		DisplayName: "Pat Preparer",
		IssuedAt:    time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC),
	})
	return NewSigner(reg, nil), reg
}

func testDocument(total string) mef.Document {
	b := mef.NewBuilder(mef.LoadConfig()).WithTransmission(mef.Transmission{EFIN: "123456", TestMode: true})
	b.NewID = func() string { return "tx-1" }
	b.Now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }
	return b.Build(mef.TaxReturn{
		FilingStatus: mef.Single,
		Taxpayer:     mef.Person{FirstName: "Alex", LastName: "Doe", SSN: "123-45-6789"},
		Address:      mef.Address{Street: "1 Main St", City: "Springfield", State: "IL", ZIP: "62701"},
		Income:       mef.Income{Wages: decimal.RequireFromString(total), Total: decimal.RequireFromString(total)},
	}, 2024)
}

func TestSign_Deterministic(t *testing.T) {
	s, _ := newTestSigner()
	ctx := context.Background()
	doc := testDocument("50000")
	creds := Credentials{EFIN: "123456", PTIN: testPTIN, PIN: "12345"}

	a, err := s.Sign(ctx, doc, creds)
	require.NoError(t, err)
	b, err := s.Sign(ctx, doc, creds)
	require.NoError(t, err)

	assert.Equal(t, a.Digest, b.Digest)
	assert.Equal(t, a.Document.Envelope.Signature.SignatureValue, b.Document.Envelope.Signature.SignatureValue)
	assert.False(t, doc.Signed(), "input document must stay unsigned")
}

func TestSign_DigestScopedToReturnData(t *testing.T) {
	base, err := Digest(testDocument("50000"))
	require.NoError(t, err)

	changed, err := Digest(testDocument("50001"))
	require.NoError(t, err)
	assert.NotEqual(t, base, changed)

	header := testDocument("50000")
	header.Envelope.Header.Timestamp = "2030-01-01T00:00:00Z"
	header.Envelope.Taxpayer.PrimaryName.FirstName = "Sam"
	same, err := Digest(header)
	require.NoError(t, err)
	assert.Equal(t, base, same)
}

func TestSign_PINChangesSignature(t *testing.T) {
	s, _ := newTestSigner()
	ctx := context.Background()
	doc := testDocument("50000")

	a, err := s.Sign(ctx, doc, Credentials{EFIN: "123456", PIN: "11111"})
	require.NoError(t, err)
	b, err := s.Sign(ctx, doc, Credentials{EFIN: "123456", PIN: "22222"})
	require.NoError(t, err)

	assert.Equal(t, a.Digest, b.Digest)
	assert.NotEqual(t, a.Document.Envelope.Signature.SignatureValue, b.Document.Envelope.Signature.SignatureValue)
}

func TestSign_KeyInfo(t *testing.T) {
	s, _ := newTestSigner()
	ctx := context.Background()

	withPTIN, err := s.Sign(ctx, testDocument("1"), Credentials{EFIN: "123456", PTIN: testPTIN, PIN: "12345"})
	require.NoError(t, err)
	ki := withPTIN.Document.Envelope.Signature.KeyInfo
	assert.Equal(t, testPTIN, ki.KeyName)
	assert.Equal(t, "Pat Preparer", ki.PreparerName)
	assert.Equal(t, "2020-01-15", ki.CredentialIssued)
	assert.Equal(t, "#ReturnData", withPTIN.Document.Envelope.Signature.SignedInfo.Reference.URI)

	efinOnly, err := s.Sign(ctx, testDocument("1"), Credentials{EFIN: "123456", PIN: "12345"})
	require.NoError(t, err)
	assert.Equal(t, "123456", efinOnly.KeyID)
	assert.Empty(t, efinOnly.Document.Envelope.Signature.KeyInfo.PreparerName)
	assert.Nil(t, efinOnly.Preparer)
}

func TestSign_CredentialFailures(t *testing.T) {
	s, reg := newTestSigner()
	ctx := context.Background()

	_, err := s.Sign(ctx, testDocument("1"), Credentials{EFIN: "123456", PTIN: "P99999999", PIN: "12345"})
	assert.ErrorIs(t, err, credential.ErrCredentialNotFound)

	require.NoError(t, reg.SetStatus(testPTIN, credential.StatusInactive))
	_, err = s.Sign(ctx, testDocument("1"), Credentials{EFIN: "123456", PTIN: testPTIN, PIN: "12345"})
	assert.ErrorIs(t, err, credential.ErrCredentialInactive)
}

func TestSign_Preconditions(t *testing.T) {
	s, _ := newTestSigner()
	ctx := context.Background()

	_, err := s.Sign(ctx, testDocument("1"), Credentials{EFIN: "123456"})
	assert.ErrorIs(t, err, ErrPINRequired)

	_, err = s.Sign(ctx, testDocument("1"), Credentials{PIN: "12345"})
	assert.ErrorIs(t, err, ErrNoKeyIdentifier)

	signed, err := s.Sign(ctx, testDocument("1"), Credentials{EFIN: "123456", PIN: "12345"})
	require.NoError(t, err)
	_, err = s.Sign(ctx, signed.Document, Credentials{EFIN: "123456", PIN: "12345"})
	assert.ErrorIs(t, err, ErrAlreadySigned)
}

func TestVerify(t *testing.T) {
	s, _ := newTestSigner()
	signed, err := s.Sign(context.Background(), testDocument("50000"), Credentials{EFIN: "123456", PTIN: testPTIN, PIN: "12345"})
	require.NoError(t, err)

	require.NoError(t, Verify(signed, "12345"))
	assert.ErrorIs(t, Verify(signed, "99999"), ErrSignatureMismatch)

	tampered := signed
	tampered.Document = signed.Document.Clone()
	tampered.Document.Envelope.ReturnData.Income.WagesAmt = "50000.01"
	assert.ErrorIs(t, Verify(tampered, "12345"), ErrDigestMismatch)

	assert.ErrorIs(t, Verify(SignedDocument{Document: testDocument("1")}, "12345"), ErrNotSigned)
}

func TestSignedDocument_MarshalsSignatureBlock(t *testing.T) {
	s, _ := newTestSigner()
	signed, err := s.Sign(context.Background(), testDocument("1"), Credentials{EFIN: "123456", PIN: "12345"})
	require.NoError(t, err)
	raw, err := signed.Document.MarshalIndent()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "<SignatureValue>")
	assert.Contains(t, string(raw), `Algorithm="http://www.w3.org/2001/10/xml-exc-c14n#"`)
}
