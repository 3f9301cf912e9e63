package orchestrator_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinto-dian/issuer/internal/domain/entity"
	"github.com/tinto-dian/issuer/internal/domain/repository"
	"github.com/tinto-dian/issuer/internal/orchestrator"
	"github.com/tinto-dian/issuer/internal/soapclient"
	"github.com/tinto-dian/issuer/internal/ubl"
)

// ---- in-memory fakes, grounded on the Verifier test fakes in internal/auth ----

type fakeInvoices struct {
	byID  map[string]*entity.Invoice
	lines map[string][]*entity.LineItem
}

func (f *fakeInvoices) Upsert(_ context.Context, inv *entity.Invoice) error {
	cp := *inv
	f.byID[inv.ID] = &cp
	return nil
}
func (f *fakeInvoices) GetByID(_ context.Context, id string) (*entity.Invoice, error) {
	inv, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *inv
	return &cp, nil
}
func (f *fakeInvoices) ListByIssuerTaxID(context.Context, string) ([]*entity.Invoice, error) {
	return nil, nil
}
func (f *fakeInvoices) InsertLineItem(_ context.Context, item *entity.LineItem) error {
	f.lines[item.InvoiceID] = append(f.lines[item.InvoiceID], item)
	return nil
}
func (f *fakeInvoices) ListLineItems(_ context.Context, invoiceID string) ([]*entity.LineItem, error) {
	return f.lines[invoiceID], nil
}
func (f *fakeInvoices) NextNumber(context.Context, string, string) (int64, error) { return 1, nil }
func (f *fakeInvoices) ExistsByNumbering(context.Context, string, string, int64) (bool, error) {
	return false, nil
}

var _ repository.InvoiceRepository = (*fakeInvoices)(nil)

type fakeSubmissions struct {
	byID map[string]*entity.Submission
}

func (f *fakeSubmissions) Insert(_ context.Context, sub *entity.Submission) error {
	cp := *sub
	f.byID[sub.ID] = &cp
	return nil
}
func (f *fakeSubmissions) LatestNonTerminal(_ context.Context, invoiceID string) (*entity.Submission, error) {
	for _, s := range f.byID {
		if s.InvoiceID == invoiceID && !s.Status.IsTerminal() {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}
func (f *fakeSubmissions) GetByID(_ context.Context, id string) (*entity.Submission, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}
func (f *fakeSubmissions) CompareAndSetStatus(_ context.Context, sub *entity.Submission, expected entity.SubmissionStatus) (bool, error) {
	cur, ok := f.byID[sub.ID]
	if !ok || cur.Status != expected {
		return false, nil
	}
	cp := *sub
	f.byID[sub.ID] = &cp
	return true, nil
}

var _ repository.SubmissionRepository = (*fakeSubmissions)(nil)

type fakeIssuers struct{ issuer *entity.Issuer }

func (f *fakeIssuers) GetByID(context.Context, string) (*entity.Issuer, error)     { return f.issuer, nil }
func (f *fakeIssuers) GetByTaxID(context.Context, string) (*entity.Issuer, error) { return f.issuer, nil }

var _ repository.IssuerRepository = (*fakeIssuers)(nil)

type fakeCustomers struct{ customer *entity.Customer }

func (f *fakeCustomers) GetByID(context.Context, string) (*entity.Customer, error) {
	return f.customer, nil
}
func (f *fakeCustomers) GetByTaxID(context.Context, entity.IdentificationType, string) (*entity.Customer, error) {
	return f.customer, nil
}

var _ repository.CustomerRepository = (*fakeCustomers)(nil)

type fakeEnvironments struct{ env *entity.Environment }

func (f *fakeEnvironments) GetByName(context.Context, entity.EnvironmentName) (*entity.Environment, error) {
	return f.env, nil
}

var _ repository.EnvironmentRepository = (*fakeEnvironments)(nil)

type fakeCipher struct{}

func (fakeCipher) Encrypt(plaintext []byte) (string, error) { return string(plaintext), nil }

type fakeCertSource struct{ cert tls.Certificate }

func (f fakeCertSource) LoadCertificate(context.Context, *entity.Issuer) (tls.Certificate, error) {
	return f.cert, nil
}

type fakeSOAPClient struct {
	sendResp   *soapclient.AsyncResponse
	sendErr    error
	statusResp *soapclient.StatusZipResponse
	statusErr  error
	sendCalls  int
	statusSeq  []*soapclient.StatusZipResponse
}

func (f *fakeSOAPClient) SendBillAsync(context.Context, string, string) (*soapclient.AsyncResponse, error) {
	f.sendCalls++
	return f.sendResp, f.sendErr
}

func (f *fakeSOAPClient) GetStatusZip(context.Context, string) (*soapclient.StatusZipResponse, error) {
	if len(f.statusSeq) > 0 {
		next := f.statusSeq[0]
		f.statusSeq = f.statusSeq[1:]
		return next, nil
	}
	return f.statusResp, f.statusErr
}

func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func baseSetup(t *testing.T) (*orchestrator.Orchestrator, *fakeInvoices, *fakeSubmissions, *fakeSOAPClient) {
	t.Helper()
	invoices := &fakeInvoices{byID: map[string]*entity.Invoice{}, lines: map[string][]*entity.LineItem{}}
	submissions := &fakeSubmissions{byID: map[string]*entity.Submission{}}

	inv := &entity.Invoice{
		ID:            "inv-1",
		IssuerID:      "issuer-1",
		CustomerID:    "cust-1",
		EnvironmentID: "habilitacion",
		Type:          entity.DocumentInvoice,
		Prefix:        "SETT",
		Number:        1,
		IssueDate:     time.Date(2026, 1, 21, 0, 0, 0, 0, time.UTC),
		Currency:      "COP",
		Subtotal:      decimal.NewFromInt(1_000_000),
		TaxTotal:      decimal.NewFromInt(190_000),
		Total:         decimal.NewFromInt(1_190_000),
		Taxes: []entity.InvoiceTax{
			{Kind: entity.TaxIVA, Amount: decimal.NewFromInt(190_000), TaxableBase: decimal.NewFromInt(1_000_000)},
		},
		Status: entity.StatusDraft,
	}
	invoices.byID[inv.ID] = inv
	invoices.lines[inv.ID] = []*entity.LineItem{
		{InvoiceID: inv.ID, LineNumber: 1, Description: "widget", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(1_000_000), LineTotal: decimal.NewFromInt(1_000_000)},
	}

	soap := &fakeSOAPClient{sendResp: &soapclient.AsyncResponse{Success: true, TrackID: "TRACK-1"}}

	o := &orchestrator.Orchestrator{
		Invoices:     invoices,
		Submissions:  submissions,
		Issuers:      &fakeIssuers{issuer: &entity.Issuer{ID: "issuer-1", TaxID: "900123456", LegalName: "ACME SAS"}},
		Customers:    &fakeCustomers{customer: &entity.Customer{ID: "cust-1", IdentificationType: entity.IdentificationCC, TaxID: "1234567890", LegalName: "Jane Doe"}},
		Environments: &fakeEnvironments{env: &entity.Environment{ID: "habilitacion", Name: entity.EnvironmentHabilitacion, Production: false}},
		Certs:        fakeCertSource{cert: selfSignedCert(t)},
		Cipher:       fakeCipher{},
		SOAPClients:  map[entity.EnvironmentName]orchestrator.SOAPClient{entity.EnvironmentHabilitacion: soap},
		EnvConfig: map[entity.EnvironmentName]orchestrator.EnvironmentConfig{
			entity.EnvironmentHabilitacion: {TechnicalKey: "TK-HAB-ABC", Software: ubl.SoftwareIdentity{SoftwareProviderID: "900000001", SoftwareID: "sw-1"}},
		},
		Now:   func() time.Time { return time.Date(2026, 1, 21, 12, 0, 0, 0, time.UTC) },
		NewID: func() string { return "sub-1" },
	}
	return o, invoices, submissions, soap
}

func TestSubmit_HappyPath(t *testing.T) {
	o, invoices, submissions, soap := baseSetup(t)

	sub, err := o.Submit(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, entity.SubmissionSubmitted, sub.Status)
	assert.Equal(t, "TRACK-1", sub.TrackID)
	assert.Equal(t, 1, soap.sendCalls)

	inv := invoices.byID["inv-1"]
	assert.Equal(t, entity.StatusSubmittedToDIAN, inv.Status)
	assert.Len(t, inv.Fingerprint, 96)
	assert.NotEmpty(t, inv.EncryptedUBLBlob)
	assert.NotEmpty(t, inv.EncryptedSignedXMLBlob)

	persisted := submissions.byID[sub.ID]
	assert.Equal(t, entity.SubmissionSubmitted, persisted.Status)
}

func TestSubmit_IsIdempotentWhenNonTerminalSubmissionExists(t *testing.T) {
	o, _, submissions, soap := baseSetup(t)
	submissions.byID["existing"] = &entity.Submission{ID: "existing", InvoiceID: "inv-1", Status: entity.SubmissionSubmitted}

	sub, err := o.Submit(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "existing", sub.ID)
	assert.Equal(t, 0, soap.sendCalls, "idempotent submit must not issue a SOAP call (P7)")
}

func TestSubmit_RejectsIssuerNITWithBadVerificationDigit(t *testing.T) {
	o, _, submissions, soap := baseSetup(t)
	o.Issuers = &fakeIssuers{issuer: &entity.Issuer{
		ID: "issuer-1", IdentificationType: entity.IdentificationNIT,
		TaxID: "9001234560", LegalName: "ACME SAS", // check digit 0 is wrong; correct value is 8
	}}

	sub, err := o.Submit(context.Background(), "inv-1")
	require.Error(t, err)
	assert.Equal(t, entity.SubmissionError, sub.Status)
	assert.Equal(t, 0, soap.sendCalls, "a rejected NIT must never reach DIAN")
	assert.Equal(t, entity.SubmissionError, submissions.byID[sub.ID].Status)
}

func TestSubmit_SendBillAsyncErrorMarksSubmissionErrorAndKeepsInvoiceSigned(t *testing.T) {
	o, invoices, submissions, soap := baseSetup(t)
	soap.sendResp = nil
	soap.sendErr = assert.AnError

	sub, err := o.Submit(context.Background(), "inv-1")
	require.Error(t, err)
	assert.Equal(t, entity.SubmissionError, sub.Status)
	assert.Equal(t, entity.StatusSigned, invoices.byID["inv-1"].Status, "invoice remains SIGNED so it can be retried (§4.9 step 8)")
	assert.Equal(t, entity.SubmissionError, submissions.byID[sub.ID].Status)
}

func TestCheckStatus_Accepted(t *testing.T) {
	o, invoices, submissions, soap := baseSetup(t)
	_, err := o.Submit(context.Background(), "inv-1")
	require.NoError(t, err)
	soap.statusResp = &soapclient.StatusZipResponse{StatusCode: "02", ZipBase64: "Zm9v"}

	sub, err := o.CheckStatus(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Equal(t, entity.SubmissionAccepted, sub.Status)
	assert.Equal(t, entity.StatusAcceptedByDIAN, invoices.byID["inv-1"].Status)
	assert.Equal(t, entity.SubmissionAccepted, submissions.byID["sub-1"].Status)
}

func TestCheckStatus_RejectedCarriesGuidance(t *testing.T) {
	o, invoices, _, soap := baseSetup(t)
	_, err := o.Submit(context.Background(), "inv-1")
	require.NoError(t, err)
	soap.statusResp = &soapclient.StatusZipResponse{StatusCode: "04", StatusMessage: "firma invalida"}

	sub, err := o.CheckStatus(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Equal(t, entity.SubmissionRejected, sub.Status)
	assert.Equal(t, entity.StatusRejectedByDIAN, invoices.byID["inv-1"].Status)

	g := orchestrator.Guidance(sub)
	assert.Equal(t, "SIGNATURE", string(g.Category))
	assert.True(t, g.Retryable)
}

func TestCheckStatus_NoTrackIDIsNoOp(t *testing.T) {
	o, _, submissions, _ := baseSetup(t)
	submissions.byID["pending-only"] = &entity.Submission{ID: "pending-only", InvoiceID: "inv-1", Status: entity.SubmissionPending}

	sub, err := o.CheckStatus(context.Background(), "pending-only")
	require.NoError(t, err)
	assert.Equal(t, entity.SubmissionPending, sub.Status)
}

func TestCheckStatus_TerminalSubmissionIsUnchanged(t *testing.T) {
	o, _, submissions, _ := baseSetup(t)
	submissions.byID["done"] = &entity.Submission{ID: "done", InvoiceID: "inv-1", TrackID: "T", Status: entity.SubmissionAccepted}

	sub, err := o.CheckStatus(context.Background(), "done")
	require.NoError(t, err)
	assert.Equal(t, entity.SubmissionAccepted, sub.Status)
}

func TestPollUntilFinal_AdvancesThroughProcessingToAccepted(t *testing.T) {
	o, _, submissions, soap := baseSetup(t)
	_, err := o.Submit(context.Background(), "inv-1")
	require.NoError(t, err)
	soap.statusSeq = []*soapclient.StatusZipResponse{
		{StatusCode: "00"},
		{StatusCode: "00"},
		{StatusCode: "02", ZipBase64: "Zm9v"},
	}

	sub, err := o.PollUntilFinal(context.Background(), "sub-1", 5, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, entity.SubmissionAccepted, sub.Status)
	assert.Equal(t, entity.SubmissionAccepted, submissions.byID["sub-1"].Status)
}

func TestPollUntilFinal_ObservesCancellationNonDestructively(t *testing.T) {
	o, _, _, soap := baseSetup(t)
	_, err := o.Submit(context.Background(), "inv-1")
	require.NoError(t, err)
	soap.statusResp = &soapclient.StatusZipResponse{StatusCode: "00"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sub, err := o.PollUntilFinal(ctx, "sub-1", 5, time.Second)
	require.NoError(t, err)
	assert.Equal(t, entity.SubmissionProcessing, sub.Status)
}
