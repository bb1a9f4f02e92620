// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

package router

// Stats are the per-node protocol counters.
type Stats struct {
	RequestInitiated              uint64
	RequestResent                 uint64
	RequestRelayed                uint64
	RequestRecved                 uint64
	RequestDuplicate              uint64
	RequestRecvedAsDest           uint64
	RequestRecvedAsDestWithSymKey uint64
	ReplyInitiatedAsDest          uint64
	ReplyForwarded                uint64
	ReplyAcked                    uint64
	ReplyRecved                   uint64
	ReplyRecvedAsSource           uint64
	ReplyForged                   uint64
	RerrInitiated                 uint64
	RerrForwarded                 uint64
	RerrAcked                     uint64
	RerrRecved                    uint64
	DataInitiated                 uint64
	DataForwarded                 uint64
	DataRecved                    uint64
	DataDroppedForNoRoute         uint64
	DataDroppedForOverlimit       uint64
	ReplyAackRecved               uint64
	RerrAackRecved                uint64
	DataAackRecved                uint64
	BrokenLinks                   uint64
}

// Field is a named counter value.
type Field struct {
	Name  string
	Value uint64
}

// Fields returns the counters in a fixed order, named the way they are
// exported as metrics.
func (s *Stats) Fields() []Field {
	return []Field{
		{"request_initiated", s.RequestInitiated},
		{"request_resent", s.RequestResent},
		{"request_relayed", s.RequestRelayed},
		{"request_received", s.RequestRecved},
		{"request_duplicate", s.RequestDuplicate},
		{"request_received_as_dest", s.RequestRecvedAsDest},
		{"request_received_as_dest_symkey", s.RequestRecvedAsDestWithSymKey},
		{"reply_initiated_as_dest", s.ReplyInitiatedAsDest},
		{"reply_forwarded", s.ReplyForwarded},
		{"reply_acked", s.ReplyAcked},
		{"reply_received", s.ReplyRecved},
		{"reply_received_as_source", s.ReplyRecvedAsSource},
		{"reply_forged", s.ReplyForged},
		{"rerr_initiated", s.RerrInitiated},
		{"rerr_forwarded", s.RerrForwarded},
		{"rerr_acked", s.RerrAcked},
		{"rerr_received", s.RerrRecved},
		{"data_initiated", s.DataInitiated},
		{"data_forwarded", s.DataForwarded},
		{"data_received", s.DataRecved},
		{"data_dropped_no_route", s.DataDroppedForNoRoute},
		{"data_dropped_overlimit", s.DataDroppedForOverlimit},
		{"reply_aack_received", s.ReplyAackRecved},
		{"rerr_aack_received", s.RerrAackRecved},
		{"data_aack_received", s.DataAackRecved},
		{"broken_links", s.BrokenLinks},
	}
}
