package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtcp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-blinkwatch/internal/log"
	"github.com/teslashibe/go-blinkwatch/pkg/debug"
)

// WebRTCOptions configures a WebRTC stream published through a GStreamer
// webrtcsink signalling server.
type WebRTCOptions struct {
	SignallingURL string        `yaml:"signallingUrl"` // e.g. ws://camera.local:8443
	Producer      string        `yaml:"producer"`      // producer meta name, empty picks the first
	Width         int           `yaml:"width"`
	Height        int           `yaml:"height"`
	FFmpeg        string        `yaml:"ffmpeg"`
	Timeout       time.Duration `yaml:"timeout"` // signalling and first-track timeout
}

// WebRTCSource receives an H264 track, depacketizes it and decodes it with a
// persistent ffmpeg process into I420 frames.
type WebRTCSource struct {
	opts WebRTCOptions

	ws   *websocket.Conn
	wsMu sync.Mutex
	pc   *webrtc.PeerConnection

	mu         sync.Mutex
	peerID     string
	producerID string
	sessionID  string
	pendingICE []webrtc.ICECandidateInit
	h264       *io.PipeWriter
	decoder    *FFmpegSource
	closed     bool

	track chan *webrtc.TrackRemote
	done  chan struct{}

	packets  atomic.Uint64
	nalBytes atomic.Uint64
}

// NewWebRTCSource validates opts. Nothing is dialled until Run.
func NewWebRTCSource(opts WebRTCOptions) (*WebRTCSource, error) {
	if opts.SignallingURL == "" {
		return nil, errors.New("video: signalling url required")
	}
	w, h, err := evenSize(opts.Width, opts.Height)
	if err != nil {
		return nil, err
	}
	opts.Width, opts.Height = w, h
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &WebRTCSource{
		opts:  opts,
		track: make(chan *webrtc.TrackRemote, 1),
		done:  make(chan struct{}),
	}, nil
}

// signalMessage covers every message exchanged with the signalling server.
type signalMessage struct {
	Type      string         `json:"type"`
	PeerID    string         `json:"peerId,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	SDP       *sdpPayload    `json:"sdp,omitempty"`
	ICE       *icePayload    `json:"ice,omitempty"`
	Producers []producerInfo `json:"producers,omitempty"`
}

type sdpPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type icePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
}

type producerInfo struct {
	ID   string            `json:"id"`
	Meta map[string]string `json:"meta"`
}

// Run connects, waits for the video track and delivers decoded frames until
// the stream ends, ctx ends or Close is called.
func (s *WebRTCSource) Run(ctx context.Context, fn FrameFunc) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()
	defer s.teardown()

	if err := s.connect(ctx); err != nil {
		return err
	}

	var track *webrtc.TrackRemote
	select {
	case track = <-s.track:
	case <-time.After(s.opts.Timeout):
		return fmt.Errorf("video: timeout waiting for video track")
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}

	pr, pw := io.Pipe()
	decoder, err := NewFFmpegSource(FFmpegOptions{
		Binary:      s.opts.FFmpeg,
		Input:       "pipe:0",
		InputFormat: "h264",
		Width:       s.opts.Width,
		Height:      s.opts.Height,
		Stdin:       pr,
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.h264 = pw
	s.decoder = decoder
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { pw.CloseWithError(ctx.Err()) })
	defer stop()

	s.requestKeyframe(track)
	go s.readTrack(track, pw)

	err = decoder.Run(ctx, fn)
	if errors.Is(err, ErrClosed) {
		return ErrClosed
	}
	return err
}

func (s *WebRTCSource) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.opts.Timeout}
	ws, _, err := dialer.DialContext(ctx, s.opts.SignallingURL, nil)
	if err != nil {
		return fmt.Errorf("signalling connect failed: %w", err)
	}
	s.mu.Lock()
	s.ws = ws
	s.mu.Unlock()

	if err := s.handshake(); err != nil {
		return err
	}
	log.Info("WebRTC producer found", "peer_id", s.peerID, "producer_id", s.producerID)

	if err := s.createPeerConnection(); err != nil {
		return fmt.Errorf("peer connection failed: %w", err)
	}
	if err := s.send(signalMessage{Type: "startSession", PeerID: s.producerID}); err != nil {
		return fmt.Errorf("start session failed: %w", err)
	}

	go s.handleSignalling()
	return nil
}

// handshake reads the welcome message and resolves the producer id.
func (s *WebRTCSource) handshake() error {
	welcome, err := s.receive()
	if err != nil {
		return fmt.Errorf("welcome failed: %w", err)
	}
	if welcome.Type != "welcome" {
		return fmt.Errorf("expected welcome, got %s", welcome.Type)
	}
	s.peerID = welcome.PeerID

	if err := s.send(signalMessage{Type: "list"}); err != nil {
		return err
	}
	list, err := s.receive()
	if err != nil {
		return fmt.Errorf("list failed: %w", err)
	}
	for _, p := range list.Producers {
		if s.opts.Producer == "" || p.Meta["name"] == s.opts.Producer {
			s.producerID = p.ID
			return nil
		}
	}
	return fmt.Errorf("producer %q not found in %d producers", s.opts.Producer, len(list.Producers))
}

func (s *WebRTCSource) receive() (signalMessage, error) {
	var msg signalMessage
	s.ws.SetReadDeadline(time.Now().Add(s.opts.Timeout))
	err := s.ws.ReadJSON(&msg)
	s.ws.SetReadDeadline(time.Time{})
	return msg, err
}

func (s *WebRTCSource) send(msg signalMessage) error {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	return s.ws.WriteJSON(msg)
}

func (s *WebRTCSource) createPeerConnection() error {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.pc = pc
	s.mu.Unlock()

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return err
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info("WebRTC track received", "kind", track.Kind(), "codec", track.Codec().MimeType)
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		if !strings.EqualFold(track.Codec().MimeType, webrtc.MimeTypeH264) {
			log.Warn("Unsupported video codec", "codec", track.Codec().MimeType)
			return
		}
		select {
		case s.track <- track:
		default:
		}
	})
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			s.sendICE(c.ToJSON())
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Info("WebRTC connection state", "state", state.String())
	})
	return nil
}

func (s *WebRTCSource) handleSignalling() {
	for {
		var msg signalMessage
		if err := s.ws.ReadJSON(&msg); err != nil {
			if !s.isClosed() {
				log.Warn("Signalling read failed", "error", err)
			}
			s.endStream()
			return
		}

		switch msg.Type {
		case "sessionStarted":
			s.mu.Lock()
			s.sessionID = msg.SessionID
			pending := s.pendingICE
			s.pendingICE = nil
			s.mu.Unlock()
			for _, c := range pending {
				s.sendICE(c)
			}
		case "peer":
			if err := s.handlePeer(msg); err != nil {
				log.Warn("Signalling peer message failed", "error", err)
			}
		case "endSession":
			log.Info("WebRTC session ended by producer")
			s.endStream()
			return
		case "error":
			log.Warn("Signalling server error", "message", msg)
		}
	}
}

func (s *WebRTCSource) handlePeer(msg signalMessage) error {
	if msg.SDP != nil && msg.SDP.Type == "offer" {
		offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP.SDP}
		if err := s.pc.SetRemoteDescription(offer); err != nil {
			return fmt.Errorf("set remote description: %w", err)
		}
		answer, err := s.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := s.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local description: %w", err)
		}
		return s.send(signalMessage{
			Type:      "peer",
			SessionID: s.session(),
			SDP:       &sdpPayload{Type: answer.Type.String(), SDP: answer.SDP},
		})
	}

	if msg.ICE != nil {
		return s.pc.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     msg.ICE.Candidate,
			SDPMid:        msg.ICE.SDPMid,
			SDPMLineIndex: msg.ICE.SDPMLineIndex,
		})
	}
	return nil
}

// sendICE forwards a local candidate, holding it back until the session id is known.
func (s *WebRTCSource) sendICE(c webrtc.ICECandidateInit) {
	s.mu.Lock()
	session := s.sessionID
	if session == "" {
		s.pendingICE = append(s.pendingICE, c)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	err := s.send(signalMessage{
		Type:      "peer",
		SessionID: session,
		ICE:       &icePayload{Candidate: c.Candidate, SDPMid: c.SDPMid, SDPMLineIndex: c.SDPMLineIndex},
	})
	if err != nil {
		debug.Log("ICE candidate not sent", "error", err)
	}
}

func (s *WebRTCSource) requestKeyframe(track *webrtc.TrackRemote) {
	err := s.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}})
	if err != nil {
		debug.Log("Keyframe request failed", "error", err)
	}
}

// readTrack depacketizes H264 RTP payloads into an Annex-B stream on w.
func (s *WebRTCSource) readTrack(track *webrtc.TrackRemote, w *io.PipeWriter) {
	var depacketizer codecs.H264Packet
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			w.CloseWithError(io.EOF)
			return
		}
		s.packets.Add(1)

		nal, err := depacketizer.Unmarshal(pkt.Payload)
		if err != nil {
			debug.FrameLog("H264 depacketize failed", "seq", pkt.SequenceNumber, "error", err)
			continue
		}
		if len(nal) == 0 {
			continue
		}
		if _, err := w.Write(nal); err != nil {
			return
		}
		s.nalBytes.Add(uint64(len(nal)))
	}
}

// WebRTCStats contains stream counters.
type WebRTCStats struct {
	Packets  uint64 `json:"packets"`
	NALBytes uint64 `json:"nalBytes"`
	Frames   uint64 `json:"frames"`
}

// Stats returns stream counters.
func (s *WebRTCSource) Stats() WebRTCStats {
	st := WebRTCStats{Packets: s.packets.Load(), NALBytes: s.nalBytes.Load()}
	s.mu.Lock()
	if s.decoder != nil {
		st.Frames = s.decoder.Frames()
	}
	s.mu.Unlock()
	return st
}

func (s *WebRTCSource) session() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *WebRTCSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// endStream closes the H264 pipe so the decoder drains and exits.
func (s *WebRTCSource) endStream() {
	s.mu.Lock()
	pw := s.h264
	s.mu.Unlock()
	if pw != nil {
		pw.CloseWithError(io.EOF)
	}
}

func (s *WebRTCSource) teardown() {
	s.endStream()
	s.mu.Lock()
	pc, ws := s.pc, s.ws
	s.mu.Unlock()
	if pc != nil {
		pc.Close()
	}
	if ws != nil {
		ws.Close()
	}
}

// Close stops Run and releases the connection.
func (s *WebRTCSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	decoder := s.decoder
	s.mu.Unlock()

	if decoder != nil {
		decoder.Close()
	}
	s.teardown()
	return nil
}
