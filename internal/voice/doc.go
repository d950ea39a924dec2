// Package voice implements the per-connection conversation loop: inbound PCM
// is fed to speech recognition and, sliced into fixed frames, to voice
// activity detection; finalized transcripts become reply tasks that call the
// language model and stream synthesized audio back to the client.
//
// A [Session] owns one [FrameBuffer], one [RecognitionFeed], one [BargeIn]
// controller and one [Supervisor]. At most one [ReplyTask] is active per
// session and only the active task may write to the [Outbound] stream. A
// speech-positive frame cancels the active task (barge-in); a new transcript
// supersedes it.
//
// Providers are shared across sessions and never looked up here; the caller
// passes them in through [Providers].
package voice
