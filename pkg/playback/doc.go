// SPDX-License-Identifier: GPL-2.0-or-later

// Package playback replays recorded takes against a clock.
//
// Playback is data driven, the first frame of a take defines time zero
// and every following frame is due once the time elapsed since
// StartPlayback reaches its timestamp minus the first timestamp.
//
//	tick:
//	  active = registry has a reader for this engine
//	  if !active or idle: return
//	  if elapsed >= next-first: advance one frame, stop at end of take
//	  deliver current frame to the readers of this engine
//
// Frames are delivered from a single buffer owned by the engine that is
// overwritten in place, readers must copy frames they want to keep.
package playback
