// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

// Package services adapts blocking or start/stop components to
// suture.Service so the supervisor tree can restart them.
//
// Each wrapper names itself through String for suture's event log.
package services
