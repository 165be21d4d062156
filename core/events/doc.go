// Package events defines the typed events a conversation emits to UI
// bindings.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - transport.*
//   - user_input.*
//   - assistant_response.*
//   - tool_call.*
//   - turn_state.*
//   - voice.*
//
// Semantics used across the package:
//
//   - Segment: append-only text piece emitted in stream order.
//   - Final: terminal immutable value for the current turn phase.
//   - Changed: point-in-time state snapshot.
//
// transport events
//
//   - TransportStatusChanged (transport.status_changed): socket status moved.
//   - SessionReady (transport.session_ready): the server accepted session.start.
//
// user_input events
//
//   - UserSpeechStarted (user_input.speech_started): voice activity began.
//   - UserSpeechEnded (user_input.speech_ended): voice activity ended.
//   - UserTranscriptFinal (user_input.transcript_final): transcript of one
//     capture, about to be sent as a user message.
//   - UserAudioLevel (user_input.audio_level): microphone level, 0 to 100.
//
// assistant_response events
//
//   - AssistantResponseSegment (assistant_response.segment): literal text of the
//     streamed reply.
//   - AssistantActionToken (assistant_response.action_token): a complete
//     control directive found in the reply.
//   - AssistantResponseFinal (assistant_response.final): the finalized reply.
//   - MessageAppended (assistant_response.message_appended): any message added
//     to history, including user, error and warning messages.
//
// tool_call events
//
//   - ToolCallStarted (tool_call.started): the backend reported a tool call.
//   - ToolCallCompleted (tool_call.completed): the backend reported its result.
//
// turn_state events
//
//   - TurnStarted (turn_state.started): a user message opened a turn.
//   - TurnCompleted (turn_state.completed): the turn finalized normally.
//   - TurnFailed (turn_state.failed): the turn ended with an error message.
//   - TurnCancelled (turn_state.cancelled): the turn was aborted or superseded.
//
// voice events
//
//   - VoiceStateChanged (voice.state_changed): pipeline moved between idle,
//     armed and capturing.
//   - CaptureDiscarded (voice.capture_discarded): a capture was too short to
//     transcribe.
package events
