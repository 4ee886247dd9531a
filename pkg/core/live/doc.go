// Package live defines the contract between the call bridge and a remote
// streaming speech model.
//
// A remote session is opened once per client connection through a Dialer and
// is consumed as a single ordered stream of Messages returned by
// Session.Receive. The stream ends with exactly one terminal error: ErrClosed
// (wrapped) when the remote side closed the session normally, or any other
// error when the session failed.
//
// # Data Flow
//
//	client audio → bridge → Session.SendAudio
//	opening turn → bridge → Session.SendText
//	Session.Receive → bridge → client audio / flush / transcript
//
// Concrete implementations live in subpackages (see live/gemini).
package live
