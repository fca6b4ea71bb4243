// Package wizard drives the multi-step flow that hides a secret text in a
// cover artifact.
//
// A session moves Idle → CoverSelect → ContentInput → KeyInput → Completion.
// Each forward step is gated by a predicate on the session fields. Leaving
// KeyInput runs the encoder for the selected method and only advances once it
// succeeds. Completion is absorbing: the only way out is a full reset.
//
// Every reset bumps the session generation. Results of calls started under an
// older generation are discarded when they return.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/stegline/core/internal/errors"
	"github.com/stegline/core/internal/model"
	"github.com/stegline/core/pkg/logger"
	"github.com/stegline/core/pkg/metrics"
)

// Step is the wizard position.
type Step int

const (
	StepIdle         Step = -1
	StepCoverSelect  Step = 0
	StepContentInput Step = 1
	StepKeyInput     Step = 2
	StepCompletion   Step = 3
)

// Steps lists the display names of the active steps.
var Steps = []string{"Cover Media", "Secret Text", "Secret Key", "Complete"}

func (s Step) String() string {
	if s >= 0 && int(s) < len(Steps) {
		return Steps[s]
	}
	return "Idle"
}

// CoverMode is how the cover artifact was provided.
type CoverMode string

const (
	CoverModeText CoverMode = "text"
	CoverModeFile CoverMode = "file"
)

// ArtifactFilename and ArtifactContentType describe a downloaded artifact.
const (
	ArtifactFilename    = "stego_output.txt"
	ArtifactContentType = "text/plain"
)

// ErrSuperseded is returned when the session was reset while a call was in
// flight. The late result has not been applied.
var ErrSuperseded = errors.New("wizard session was reset")

// Encoder embeds a secret into a cover artifact.
type Encoder interface {
	Encode(ctx context.Context, cover []byte, secretText, secretKey string, alg model.Algorithm) (string, error)
}

// Dispatcher delivers a finished artifact to a recipient.
type Dispatcher interface {
	SendSecure(ctx context.Context, senderID, recipientID, artifact string, method model.StegoMethod) (*model.Message, error)
}

// CoverSuggester produces ordinary looking cover text.
type CoverSuggester interface {
	SuggestCover(ctx context.Context, topic string, secretLength int) (string, error)
}

// CoverFile is an attached cover document.
type CoverFile struct {
	Name string
	Data []byte
}

// Patch updates input fields. Nil fields are left unchanged.
type Patch struct {
	Cover      *model.CoverKind `json:"cover,omitempty"`
	Algorithm  *model.Algorithm `json:"algorithm,omitempty"`
	CoverText  *string          `json:"cover_text,omitempty"`
	SecretText *string          `json:"secret_text,omitempty"`
	SecretKey  *string          `json:"secret_key,omitempty"`
}

// Snapshot is a read-only view of the session for the presentation layer.
type Snapshot struct {
	Generation    uint64             `json:"generation"`
	Method        *model.StegoMethod `json:"method"`
	MethodLabel   string             `json:"method_label,omitempty"`
	Step          Step               `json:"step"`
	StepName      string             `json:"step_name"`
	Cover         *model.CoverKind   `json:"cover"`
	CoverMode     CoverMode          `json:"cover_mode"`
	CoverText     string             `json:"cover_text"`
	CoverFileName string             `json:"cover_file_name,omitempty"`
	Algorithm     model.Algorithm    `json:"algorithm"`
	SecretText    string             `json:"secret_text"`
	SecretKey     string             `json:"secret_key"`
	Result        *string            `json:"stego_result"`
	Processing    bool               `json:"processing"`
	Error         string             `json:"error,omitempty"`
	CanContinue   bool               `json:"can_continue"`
}

type session struct {
	method     *model.StegoMethod
	step       Step
	cover      *model.CoverKind
	coverMode  CoverMode
	coverText  string
	coverFile  *CoverFile
	algorithm  model.Algorithm
	secretText string
	secretKey  string
	result     *string
	processing bool
	err        string
}

func idle() session {
	return session{
		step:      StepIdle,
		coverMode: CoverModeText,
		algorithm: model.DefaultAlgorithm,
	}
}

// Option configures a Wizard.
type Option func(*Wizard)

// WithEncoder registers the encoder used when leaving KeyInput for method.
func WithEncoder(method model.StegoMethod, enc Encoder) Option {
	return func(w *Wizard) { w.encoders[method] = enc }
}

// WithDispatcher enables Send.
func WithDispatcher(d Dispatcher) Option {
	return func(w *Wizard) { w.dispatcher = d }
}

// WithCoverSuggester enables SuggestCover.
func WithCoverSuggester(s CoverSuggester) Option {
	return func(w *Wizard) { w.suggester = s }
}

// Wizard is one user's encoding session. It is safe for concurrent use.
type Wizard struct {
	ownerID    string
	encoders   map[model.StegoMethod]Encoder
	dispatcher Dispatcher
	suggester  CoverSuggester
	logger     *logger.Logger

	mu         sync.Mutex
	s          session
	generation uint64
}

// New creates an idle wizard owned by ownerID.
func New(ownerID string, log *logger.Logger, opts ...Option) *Wizard {
	w := &Wizard{
		ownerID:  ownerID,
		encoders: make(map[model.StegoMethod]Encoder),
		logger:   log.Named("wizard").With(zap.String("user_id", ownerID)),
		s:        idle(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// busyLocked rejects edits while an encode or send is in flight. Only Reset
// and SelectMethod may interrupt one; they bump the generation.
func (w *Wizard) busyLocked() error {
	if w.s.processing {
		return fmt.Errorf("%w: encode in progress", apperrors.ErrValidation)
	}
	return nil
}

// resetLocked clears every field and invalidates in-flight calls.
func (w *Wizard) resetLocked() {
	w.s = idle()
	w.generation++
}

// Reset returns the wizard to Idle.
func (w *Wizard) Reset() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetLocked()
	metrics.RecordWizardTransition("reset", "ok")
	return w.snapshotLocked()
}

// SelectMethod starts a fresh session at CoverSelect. Nothing carries over
// from a previous session.
func (w *Wizard) SelectMethod(method model.StegoMethod) (Snapshot, error) {
	if !method.Valid() {
		return w.Snapshot(), fmt.Errorf("%w: unknown method %q", apperrors.ErrValidation, method)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetLocked()
	w.s.method = &method
	w.s.step = StepCoverSelect
	metrics.RecordWizardTransition("select_method", "ok")
	return w.snapshotLocked(), nil
}

// Update applies a patch of input fields.
func (w *Wizard) Update(p Patch) (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.s.step == StepIdle {
		return w.snapshotLocked(), fmt.Errorf("%w: no method selected", apperrors.ErrValidation)
	}
	if w.s.step == StepCompletion {
		return w.snapshotLocked(), fmt.Errorf("%w: session is complete", apperrors.ErrValidation)
	}
	if err := w.busyLocked(); err != nil {
		return w.snapshotLocked(), err
	}

	if p.Cover != nil {
		if !p.Cover.Valid() {
			return w.snapshotLocked(), fmt.Errorf("%w: unknown cover %q", apperrors.ErrValidation, *p.Cover)
		}
		cover := *p.Cover
		w.s.cover = &cover
	}
	if p.Algorithm != nil {
		if !p.Algorithm.Valid() {
			return w.snapshotLocked(), fmt.Errorf("%w: unknown algorithm %q", apperrors.ErrValidation, *p.Algorithm)
		}
		w.s.algorithm = *p.Algorithm
	}
	if p.CoverText != nil {
		w.s.coverText = *p.CoverText
		w.s.coverMode = CoverModeText
		w.s.coverFile = nil
	}
	if p.SecretText != nil {
		w.s.secretText = *p.SecretText
	}
	if p.SecretKey != nil {
		w.s.secretKey = *p.SecretKey
	}
	return w.snapshotLocked(), nil
}

// SelectCover chooses the cover kind.
func (w *Wizard) SelectCover(kind model.CoverKind) (Snapshot, error) {
	return w.Update(Patch{Cover: &kind})
}

// SetCoverText sets the cover text and detaches any cover file.
func (w *Wizard) SetCoverText(text string) (Snapshot, error) {
	return w.Update(Patch{CoverText: &text})
}

// SetSecretText sets the text to hide.
func (w *Wizard) SetSecretText(text string) (Snapshot, error) {
	return w.Update(Patch{SecretText: &text})
}

// SetSecretKey sets the key.
func (w *Wizard) SetSecretKey(key string) (Snapshot, error) {
	return w.Update(Patch{SecretKey: &key})
}

// SetAlgorithm chooses the text embedding algorithm.
func (w *Wizard) SetAlgorithm(alg model.Algorithm) (Snapshot, error) {
	return w.Update(Patch{Algorithm: &alg})
}

// AttachCoverFile attaches a cover document. For a text cover the document
// contents also become the cover text.
func (w *Wizard) AttachCoverFile(name string, data []byte) (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.s.step == StepIdle || w.s.step == StepCompletion {
		return w.snapshotLocked(), fmt.Errorf("%w: cover cannot be attached now", apperrors.ErrValidation)
	}
	if err := w.busyLocked(); err != nil {
		return w.snapshotLocked(), err
	}
	if len(data) == 0 {
		return w.snapshotLocked(), fmt.Errorf("%w: empty cover file", apperrors.ErrValidation)
	}

	w.s.coverFile = &CoverFile{Name: name, Data: append([]byte(nil), data...)}
	w.s.coverMode = CoverModeFile
	if w.s.cover != nil && *w.s.cover == model.CoverText {
		w.s.coverText = string(data)
	}
	return w.snapshotLocked(), nil
}

// CanContinue reports whether the current step's gate is satisfied.
func (w *Wizard) CanContinue() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.s.canContinue()
}

func (s *session) canContinue() bool {
	switch s.step {
	case StepCoverSelect:
		return s.cover != nil
	case StepContentInput:
		return len(s.secretText) > 0 && (len(s.coverText) > 0 || s.coverFile != nil)
	case StepKeyInput:
		return len(s.secretKey) >= MinKeyLength
	}
	return false
}

func (s *session) coverBytes() []byte {
	if s.coverMode == CoverModeFile && s.coverFile != nil {
		return s.coverFile.Data
	}
	return []byte(s.coverText)
}

// Continue advances one step when the gate is satisfied. Leaving KeyInput
// runs the encoder and blocks until it resolves; a failure keeps the step and
// records a displayable error.
func (w *Wizard) Continue(ctx context.Context) (Snapshot, error) {
	w.mu.Lock()
	step := w.s.step

	if step == StepIdle || step == StepCompletion {
		snap := w.snapshotLocked()
		w.mu.Unlock()
		return snap, fmt.Errorf("%w: cannot continue from %s", apperrors.ErrValidation, step)
	}
	if w.s.processing {
		snap := w.snapshotLocked()
		w.mu.Unlock()
		return snap, fmt.Errorf("%w: encode in progress", apperrors.ErrValidation)
	}
	if !w.s.canContinue() {
		snap := w.snapshotLocked()
		w.mu.Unlock()
		metrics.RecordWizardTransition("continue", "blocked")
		return snap, fmt.Errorf("%w: %s is incomplete", apperrors.ErrValidation, step)
	}

	if step != StepKeyInput {
		w.s.step++
		snap := w.snapshotLocked()
		w.mu.Unlock()
		metrics.RecordWizardTransition("continue", "ok")
		return snap, nil
	}

	enc, ok := w.encoders[*w.s.method]
	if !ok {
		// Media methods have no encoder; the session completes without an artifact.
		w.s.step = StepCompletion
		snap := w.snapshotLocked()
		w.mu.Unlock()
		metrics.RecordWizardTransition("continue", "no_encoder")
		return snap, nil
	}

	gen := w.generation
	method := *w.s.method
	alg := w.s.algorithm
	cover := w.s.coverBytes()
	secretText, secretKey := w.s.secretText, w.s.secretKey
	w.s.processing = true
	w.s.err = ""
	w.mu.Unlock()

	result, err := enc.Encode(ctx, cover, secretText, secretKey, alg)

	w.mu.Lock()
	defer w.mu.Unlock()

	if gen != w.generation {
		w.logger.Info("Discarding encode result for reset session", zap.Uint64("generation", gen))
		metrics.RecordWizardTransition("encode", "superseded")
		return w.snapshotLocked(), ErrSuperseded
	}

	w.s.processing = false
	if err != nil {
		w.s.err = displayReason(err, "Encoding failed")
		w.logger.Warn("Encode failed",
			zap.String("method", string(method)),
			zap.String("algorithm", string(alg)),
			zap.Error(err),
		)
		metrics.RecordWizardTransition("encode", "failed")
		return w.snapshotLocked(), err
	}

	w.s.result = &result
	w.s.step = StepCompletion
	w.logger.Info("Encode completed",
		zap.String("method", string(method)),
		zap.String("algorithm", string(alg)),
		zap.Int("artifact_length", len(result)),
	)
	metrics.RecordWizardTransition("encode", "ok")
	return w.snapshotLocked(), nil
}

// Back moves one step back. From CoverSelect or Completion it performs a full
// reset to Idle. It is rejected while an encode or send is in flight.
func (w *Wizard) Back() (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.busyLocked(); err != nil {
		metrics.RecordWizardTransition("back", "blocked")
		return w.snapshotLocked(), err
	}

	switch w.s.step {
	case StepIdle:
	case StepCoverSelect, StepCompletion:
		w.resetLocked()
	default:
		w.s.step--
		w.s.err = ""
	}
	metrics.RecordWizardTransition("back", "ok")
	return w.snapshotLocked(), nil
}

// AutoGenerateKey fills the key with a generated one. Only valid at KeyInput.
func (w *Wizard) AutoGenerateKey() (Snapshot, error) {
	key, err := GenerateKey()
	if err != nil {
		return w.Snapshot(), err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.s.step != StepKeyInput {
		return w.snapshotLocked(), fmt.Errorf("%w: keys are generated at the key step", apperrors.ErrValidation)
	}
	if err := w.busyLocked(); err != nil {
		return w.snapshotLocked(), err
	}
	w.s.secretKey = key
	return w.snapshotLocked(), nil
}

// Artifact is a downloadable encoded result.
type Artifact struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Download returns the encoded artifact.
func (w *Wizard) Download() (*Artifact, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.s.step != StepCompletion || w.s.result == nil {
		return nil, apperrors.ErrNoArtifact
	}
	return &Artifact{
		Filename:    ArtifactFilename,
		ContentType: ArtifactContentType,
		Data:        []byte(*w.s.result),
	}, nil
}

// Send delivers the artifact to recipientID and ends the session. Only the
// encoded artifact and method leave the wizard.
func (w *Wizard) Send(ctx context.Context, recipientID string) (*model.Message, error) {
	if w.dispatcher == nil {
		return nil, fmt.Errorf("%w: sending is not configured", apperrors.ErrUnsupported)
	}

	w.mu.Lock()
	if w.s.step != StepCompletion || w.s.result == nil {
		w.mu.Unlock()
		return nil, apperrors.ErrNoArtifact
	}
	if w.s.processing {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: send in progress", apperrors.ErrValidation)
	}
	gen := w.generation
	artifact := *w.s.result
	method := *w.s.method
	w.s.processing = true
	w.s.err = ""
	w.mu.Unlock()

	msg, err := w.dispatcher.SendSecure(ctx, w.ownerID, recipientID, artifact, method)

	w.mu.Lock()
	defer w.mu.Unlock()

	if gen != w.generation {
		if err != nil {
			return nil, err
		}
		return msg, nil
	}

	w.s.processing = false
	if err != nil {
		w.s.err = displayReason(err, "Send failed")
		metrics.RecordWizardTransition("send", "failed")
		return nil, err
	}

	w.resetLocked()
	w.logger.Info("Artifact delivered",
		zap.String("conversation_id", msg.ConversationID),
		zap.String("message_id", msg.ID),
	)
	metrics.RecordWizardTransition("send", "ok")
	return msg, nil
}

// SuggestCover replaces the cover text with generated text on topic.
func (w *Wizard) SuggestCover(ctx context.Context, topic string) (Snapshot, error) {
	if w.suggester == nil {
		return w.Snapshot(), fmt.Errorf("%w: cover suggestions are not configured", apperrors.ErrUnsupported)
	}

	w.mu.Lock()
	if w.s.step != StepContentInput {
		snap := w.snapshotLocked()
		w.mu.Unlock()
		return snap, fmt.Errorf("%w: covers are suggested at the content step", apperrors.ErrValidation)
	}
	gen := w.generation
	secretLen := len(w.s.secretText)
	w.mu.Unlock()

	text, err := w.suggester.SuggestCover(ctx, topic, secretLen)

	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.generation || w.s.step != StepContentInput {
		return w.snapshotLocked(), ErrSuperseded
	}
	if err != nil {
		w.s.err = displayReason(err, "Cover suggestion failed")
		return w.snapshotLocked(), err
	}
	w.s.coverText = text
	w.s.coverMode = CoverModeText
	w.s.coverFile = nil
	w.s.err = ""
	return w.snapshotLocked(), nil
}

// Snapshot returns the current session view.
func (w *Wizard) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

func (w *Wizard) snapshotLocked() Snapshot {
	s := w.s
	snap := Snapshot{
		Generation:  w.generation,
		Step:        s.step,
		StepName:    s.step.String(),
		CoverMode:   s.coverMode,
		CoverText:   s.coverText,
		Algorithm:   s.algorithm,
		SecretText:  s.secretText,
		SecretKey:   s.secretKey,
		Processing:  s.processing,
		Error:       s.err,
		CanContinue: s.canContinue(),
	}
	if s.method != nil {
		m := *s.method
		snap.Method = &m
		snap.MethodLabel = m.Label()
	}
	if s.cover != nil {
		c := *s.cover
		snap.Cover = &c
	}
	if s.coverFile != nil {
		snap.CoverFileName = s.coverFile.Name
	}
	if s.result != nil {
		r := *s.result
		snap.Result = &r
	}
	return snap
}

// displayReason returns the user facing text of err. Transport level errors
// carry wrapped detail that is not meant for display.
func displayReason(err error, fallback string) string {
	switch apperrors.Kind(err) {
	case apperrors.ErrEncodeFailed, apperrors.ErrDecodeFailed, apperrors.ErrValidation,
		apperrors.ErrUnauthorized, apperrors.ErrNoArtifact, apperrors.ErrUnsupported:
		return err.Error()
	case apperrors.ErrTimeout:
		return "The steganography service did not respond in time"
	case apperrors.ErrTransport:
		return "The steganography service is unreachable"
	}
	return fallback
}
