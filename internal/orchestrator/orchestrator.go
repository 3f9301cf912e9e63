// Package orchestrator implements §4.9: the per-invoice submission state
// machine that ties the CUFE engine, UBL builder, XML signer, ZIP packager
// and SOAP client into the issuance pipeline, grounded on the teacher's
// DIANOrchestrator (internal/application/billing/dian_orchestrator.go)
// generalized from its dev/test/prod mock-switch into a real async
// submit-then-poll cycle against an injected SOAP client per environment.
package orchestrator

import (
	"context"
	"crypto/tls"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tinto-dian/issuer/internal/cufe"
	"github.com/tinto-dian/issuer/internal/domain"
	"github.com/tinto-dian/issuer/internal/domain/entity"
	"github.com/tinto-dian/issuer/internal/domain/repository"
	"github.com/tinto-dian/issuer/internal/errormap"
	"github.com/tinto-dian/issuer/internal/soapclient"
	"github.com/tinto-dian/issuer/internal/ubl"
	"github.com/tinto-dian/issuer/internal/xmlsign"
	"github.com/tinto-dian/issuer/internal/zippkg"
	"github.com/tinto-dian/issuer/pkg/dian"
)

// SOAPClient is the transport dependency §4.8 exposes to the orchestrator.
// *soapclient.Client satisfies it; tests substitute a fake.
type SOAPClient interface {
	SendBillAsync(ctx context.Context, filename, base64Zip string) (*soapclient.AsyncResponse, error)
	GetStatusZip(ctx context.Context, trackID string) (*soapclient.StatusZipResponse, error)
}

// CertSource resolves the issuer's signing keypair. Implementations load a
// PKCS#12 keystore or PEM pair per §4.6/§6; the orchestrator never retains
// the private key beyond a single Submit call.
type CertSource interface {
	LoadCertificate(ctx context.Context, issuer *entity.Issuer) (tls.Certificate, error)
}

// Cipher is the at-rest encryption dependency (§4.10): every sensitive blob
// the orchestrator persists (UBL, signed XML, request ZIP, DIAN response)
// goes through it. *keycustody.MasterKey satisfies it directly.
type Cipher interface {
	Encrypt(plaintext []byte) (string, error)
}

// EnvironmentConfig is the per-environment configuration the orchestrator
// needs beyond what entity.Environment stores: the technical key (§4.4
// item 10) and the software identity (§4.5 item 1(b)).
type EnvironmentConfig struct {
	TechnicalKey string
	Software     ubl.SoftwareIdentity
}

// Orchestrator implements the submit / check_status / poll_until_final
// algorithms of §4.9 against injected ports, with no direct dependency on
// any concrete storage or transport implementation.
type Orchestrator struct {
	Invoices     repository.InvoiceRepository
	Submissions  repository.SubmissionRepository
	Issuers      repository.IssuerRepository
	Customers    repository.CustomerRepository
	Environments repository.EnvironmentRepository

	Certs       CertSource
	Cipher      Cipher
	SOAPClients map[entity.EnvironmentName]SOAPClient
	EnvConfig   map[entity.EnvironmentName]EnvironmentConfig

	// Now and NewID are overridden by tests for determinism; production
	// callers leave them nil and get a real clock and random UUIDs.
	Now   func() time.Time
	NewID func() string

	Log zerolog.Logger
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) newID() string {
	if o.NewID != nil {
		return o.NewID()
	}
	return uuid.New().String()
}

// Submit implements §4.9's submit(invoice) algorithm.
func (o *Orchestrator) Submit(ctx context.Context, invoiceID string) (*entity.Submission, error) {
	inv, err := o.Invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, domain.NewUpstream(err, "orchestrator: loading invoice %s", invoiceID)
	}
	if inv == nil {
		return nil, domain.NewNotFound("orchestrator: invoice %s not found", invoiceID)
	}

	// Step 1: idempotency. A non-terminal submission already exists; return
	// it without issuing a single SOAP call (P7).
	if existing, err := o.Submissions.LatestNonTerminal(ctx, invoiceID); err != nil {
		return nil, domain.NewUpstream(err, "orchestrator: checking for a non-terminal submission")
	} else if existing != nil {
		o.Log.Info().Str("invoice_id", invoiceID).Str("submission_id", existing.ID).
			Msg("submit: non-terminal submission already exists, returning it")
		return existing, nil
	}

	if inv.Status == entity.StatusCancelled || inv.Status == entity.StatusAcceptedByDIAN {
		return nil, domain.NewConflict("orchestrator: invoice %s is in terminal state %s", invoiceID, inv.Status)
	}

	env, err := o.Environments.GetByName(ctx, entity.EnvironmentName(inv.EnvironmentID))
	if err != nil {
		return nil, domain.NewUpstream(err, "orchestrator: loading environment %s", inv.EnvironmentID)
	}
	if env == nil {
		return nil, domain.NewNotFound("orchestrator: environment %s not found", inv.EnvironmentID)
	}
	envCfg, ok := o.EnvConfig[env.Name]
	if !ok {
		return nil, domain.NewCrypto(nil, "orchestrator: no configuration registered for environment %s", env.Name)
	}
	client, ok := o.SOAPClients[env.Name]
	if !ok {
		return nil, domain.NewUpstream(nil, "orchestrator: no SOAP client registered for environment %s", env.Name)
	}

	// Step 2: create a fresh Submission in PENDING.
	now := o.now()
	sub := &entity.Submission{
		ID:            o.newID(),
		InvoiceID:     inv.ID,
		EnvironmentID: string(env.Name),
		Status:        entity.SubmissionPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := o.Submissions.Insert(ctx, sub); err != nil {
		return nil, domain.NewUpstream(err, "orchestrator: persisting submission")
	}

	abort := func(classified *domain.Error) (*entity.Submission, error) {
		sub.Status = entity.SubmissionError
		sub.ErrorMessage = classified.Message
		sub.UpdatedAt = o.now()
		if _, csErr := o.Submissions.CompareAndSetStatus(ctx, sub, entity.SubmissionPending); csErr != nil {
			o.Log.Error().Err(csErr).Str("submission_id", sub.ID).Msg("submit: failed to persist ERROR submission")
		}
		o.Log.Error().Err(classified).Str("invoice_id", invoiceID).Str("submission_id", sub.ID).Msg("submit: aborted")
		return sub, classified
	}
	fail := func(cause error, format string, args ...any) (*entity.Submission, error) {
		return abort(domain.NewUpstream(cause, format, args...))
	}
	failBusiness := func(format string, args ...any) (*entity.Submission, error) {
		return abort(domain.NewBusinessRule(format, args...))
	}

	issuer, err := o.Issuers.GetByID(ctx, inv.IssuerID)
	if err != nil || issuer == nil {
		return fail(err, "orchestrator: loading issuer %s", inv.IssuerID)
	}
	customer, err := o.Customers.GetByID(ctx, inv.CustomerID)
	if err != nil || customer == nil {
		return fail(err, "orchestrator: loading customer %s", inv.CustomerID)
	}
	lines, err := o.Invoices.ListLineItems(ctx, inv.ID)
	if err != nil || len(lines) == 0 {
		return fail(err, "orchestrator: loading line items for invoice %s", invoiceID)
	}

	// issuer.TaxID feeds the CUFE as digits-only with no check digit (§4.4
	// item 7); when the stored value carries one (10 digits) rather than the
	// canonical 9-digit base, validate it here and drop it before the CUFE.
	issuerDigits := issuer.TaxID
	if issuer.IdentificationType == entity.IdentificationNIT && countDigits(issuer.TaxID) >= 10 {
		if err := dian.ValidateNITVerificationDigit(issuer.TaxID); err != nil {
			return failBusiness("issuer NIT failed verification digit check: %v", err)
		}
		var base []rune
		for _, r := range issuer.TaxID {
			if unicode.IsDigit(r) && len(base) < 9 {
				base = append(base, r)
			}
		}
		issuerDigits = string(base)
	}

	// Step 3: CUFE.
	fingerprint, err := cufe.Calculate(cufe.Params{
		InvoiceNumber:     inv.InvoiceID(),
		IssueDate:         inv.IssueDate,
		IssueTime:         inv.IssueTime,
		Subtotal:          inv.Subtotal,
		Taxes:             inv.Taxes,
		GrandTotal:        inv.Total,
		IssuerTaxIDDigits: issuerDigits,
		CustomerIDType:    customer.IdentificationType,
		CustomerID:        customer.TaxID,
		TechnicalKey:      envCfg.TechnicalKey,
		Production:        env.Production,
	})
	if err != nil {
		return fail(err, "orchestrator: computing CUFE")
	}
	inv.Fingerprint = fingerprint
	if inv.Status == entity.StatusDraft {
		inv.Status = entity.StatusPendingSignature
	}
	inv.UpdatedAt = o.now()

	lineValues := make([]entity.LineItem, len(lines))
	for i, l := range lines {
		lineValues[i] = *l
	}

	// Step 4: UBL.
	xmlDoc, err := ubl.Build(ubl.Context{
		Invoice:  inv,
		Lines:    lineValues,
		Issuer:   issuer,
		Customer: customer,
		Software: envCfg.Software,
	})
	if err != nil {
		return fail(err, "orchestrator: building UBL document")
	}
	encryptedUBL, err := o.Cipher.Encrypt(xmlDoc)
	if err != nil {
		return fail(err, "orchestrator: encrypting UBL blob")
	}
	inv.EncryptedUBLBlob = encryptedUBL
	if err := o.Invoices.Upsert(ctx, inv); err != nil {
		return fail(err, "orchestrator: persisting UBL blob")
	}

	// Step 5: sign.
	cert, err := o.Certs.LoadCertificate(ctx, issuer)
	if err != nil {
		return fail(err, "orchestrator: loading signing certificate")
	}
	signedXML, err := xmlsign.Sign(xmlDoc, cert)
	if err != nil {
		return fail(err, "orchestrator: signing UBL document")
	}
	encryptedSigned, err := o.Cipher.Encrypt(signedXML)
	if err != nil {
		return fail(err, "orchestrator: encrypting signed-XML blob")
	}
	inv.EncryptedSignedXMLBlob = encryptedSigned
	inv.Status = entity.StatusSigned
	inv.UpdatedAt = o.now()
	if err := o.Invoices.Upsert(ctx, inv); err != nil {
		return fail(err, "orchestrator: persisting signed invoice")
	}

	// Step 6: package.
	names := zippkg.BuildNames(issuer.TaxID, string(inv.Type), inv.IssueDate.Year(), inv.Number, inv.Prefix, inv.Number)
	zipBase64, err := zippkg.Pack(signedXML, names.InnerFilename)
	if err != nil {
		return fail(err, "orchestrator: packaging ZIP")
	}
	encryptedZip, err := o.Cipher.Encrypt([]byte(zipBase64))
	if err != nil {
		return fail(err, "orchestrator: encrypting request ZIP blob")
	}
	sub.EncryptedRequestZipBlob = encryptedZip

	// Step 7: send.
	resp, err := client.SendBillAsync(ctx, names.ArchiveFilename, zipBase64)
	if err != nil {
		return fail(err, "orchestrator: SendBillAsync failed")
	}

	// Step 8: interpret the async response.
	if !resp.Success || resp.TrackID == "" {
		sub.Status = entity.SubmissionError
		sub.ErrorCode = resp.ErrorCode
		sub.ErrorMessage = resp.ErrorMessage
		sub.UpdatedAt = o.now()
		if _, err := o.Submissions.CompareAndSetStatus(ctx, sub, entity.SubmissionPending); err != nil {
			o.Log.Error().Err(err).Str("submission_id", sub.ID).Msg("submit: failed to persist rejected SendBillAsync result")
		}
		o.Log.Warn().Str("invoice_id", invoiceID).Str("error_code", resp.ErrorCode).
			Msg("submit: DIAN rejected SendBillAsync, invoice remains SIGNED for retry")
		return sub, nil
	}

	sub.TrackID = resp.TrackID
	sub.Status = entity.SubmissionSubmitted
	submittedAt := o.now()
	sub.SubmittedAt = &submittedAt
	sub.UpdatedAt = submittedAt
	if _, err := o.Submissions.CompareAndSetStatus(ctx, sub, entity.SubmissionPending); err != nil {
		return fail(err, "orchestrator: persisting SUBMITTED submission")
	}

	inv.Status = entity.StatusSubmittedToDIAN
	inv.UpdatedAt = submittedAt
	if err := o.Invoices.Upsert(ctx, inv); err != nil {
		o.Log.Error().Err(err).Str("invoice_id", invoiceID).Msg("submit: SOAP call succeeded but invoice status update failed")
	}

	o.Log.Info().Str("invoice_id", invoiceID).Str("submission_id", sub.ID).Str("track_id", sub.TrackID).
		Msg("submit: accepted by DIAN's async intake, now polling")
	return sub, nil
}

// CheckStatus implements §4.9's check_status(submission) algorithm.
func (o *Orchestrator) CheckStatus(ctx context.Context, submissionID string) (*entity.Submission, error) {
	sub, err := o.Submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, domain.NewUpstream(err, "orchestrator: loading submission %s", submissionID)
	}
	if sub == nil {
		return nil, domain.NewNotFound("orchestrator: submission %s not found", submissionID)
	}
	if sub.TrackID == "" {
		o.Log.Warn().Str("submission_id", submissionID).Msg("check_status: no track id yet, no-op")
		return sub, nil
	}
	if sub.Status.IsTerminal() {
		return sub, nil
	}

	client, ok := o.SOAPClients[entity.EnvironmentName(sub.EnvironmentID)]
	if !ok {
		return nil, domain.NewUpstream(nil, "orchestrator: no SOAP client registered for environment %s", sub.EnvironmentID)
	}

	prevStatus := sub.Status
	resp, err := client.GetStatusZip(ctx, sub.TrackID)
	if err != nil {
		sub.Status = entity.SubmissionError
		sub.ErrorMessage = err.Error()
		sub.UpdatedAt = o.now()
		if _, csErr := o.Submissions.CompareAndSetStatus(ctx, sub, prevStatus); csErr != nil {
			o.Log.Error().Err(csErr).Str("submission_id", submissionID).Msg("check_status: failed to persist ERROR")
		}
		return sub, domain.NewUpstream(err, "orchestrator: GetStatusZip failed")
	}

	switch resp.StatusCode {
	case "00":
		sub.Status = entity.SubmissionProcessing
	case "02":
		sub.Status = entity.SubmissionAccepted
		if encrypted, encErr := o.Cipher.Encrypt([]byte(resp.ZipBase64)); encErr == nil {
			sub.EncryptedResponseBlob = encrypted
		} else {
			o.Log.Error().Err(encErr).Str("submission_id", submissionID).Msg("check_status: failed to encrypt DIAN response blob")
		}
		if err := o.markInvoiceTerminal(ctx, sub.InvoiceID, entity.StatusAcceptedByDIAN); err != nil {
			o.Log.Error().Err(err).Str("invoice_id", sub.InvoiceID).Msg("check_status: failed to mark invoice ACCEPTED_BY_DIAN")
		}
	case "04":
		sub.Status = entity.SubmissionRejected
		sub.ErrorCode = resp.StatusCode
		sub.ErrorMessage = resp.StatusMessage
		if encrypted, encErr := o.Cipher.Encrypt([]byte(resp.ZipBase64)); encErr == nil {
			sub.EncryptedResponseBlob = encrypted
		} else {
			o.Log.Error().Err(encErr).Str("submission_id", submissionID).Msg("check_status: failed to encrypt DIAN response blob")
		}
		if err := o.markInvoiceTerminal(ctx, sub.InvoiceID, entity.StatusRejectedByDIAN); err != nil {
			o.Log.Error().Err(err).Str("invoice_id", sub.InvoiceID).Msg("check_status: failed to mark invoice REJECTED_BY_DIAN")
		}
	default:
		sub.Status = entity.SubmissionError
		sub.ErrorCode = resp.StatusCode
		sub.ErrorMessage = resp.StatusMessage
	}

	now := o.now()
	sub.UpdatedAt = now
	if sub.Status.IsTerminal() {
		sub.ProcessedAt = &now
	}
	if _, err := o.Submissions.CompareAndSetStatus(ctx, sub, prevStatus); err != nil {
		return nil, domain.NewUpstream(err, "orchestrator: persisting check_status result")
	}
	return sub, nil
}

func (o *Orchestrator) markInvoiceTerminal(ctx context.Context, invoiceID string, status entity.Status) error {
	inv, err := o.Invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv == nil {
		return domain.NewNotFound("orchestrator: invoice %s not found", invoiceID)
	}
	inv.Status = status
	inv.UpdatedAt = o.now()
	return o.Invoices.Upsert(ctx, inv)
}

// PollUntilFinal implements §4.9's poll_until_final: a blocking, cancellable
// loop calling CheckStatus with a cooperative sleep between attempts. On
// cancellation it returns the submission as last persisted — it never
// rolls back committed state (§5).
func (o *Orchestrator) PollUntilFinal(ctx context.Context, submissionID string, maxAttempts int, delay time.Duration) (*entity.Submission, error) {
	var last *entity.Submission
	for attempt := 0; attempt < maxAttempts; attempt++ {
		sub, err := o.CheckStatus(ctx, submissionID)
		if err != nil {
			return last, err
		}
		last = sub
		if sub.Status.IsTerminal() {
			return sub, nil
		}
		select {
		case <-ctx.Done():
			o.Log.Info().Str("submission_id", submissionID).Msg("poll_until_final: cancelled, returning last known state")
			return sub, nil
		case <-time.After(delay):
		}
	}
	return last, nil
}

// Guidance exposes the §4.11 error-guidance object for a terminally
// rejected submission, as §7 requires every terminal-rejected invoice to.
func Guidance(sub *entity.Submission) errormap.Guidance {
	return errormap.Classify(sub.ErrorCode, sub.ErrorMessage)
}
