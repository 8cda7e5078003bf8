package codeix

import "fmt"

// The staging lifecycle is a strict state machine:
//
//	Idle -> Staged -> Ended -> Idle   (commit)
//	Idle -> Staged -> Ended -> Idle   (abort)
//	Idle -> Staged -> Idle            (abort)
//
// Every transition below requires the caller to hold write permission.
// Calling a transition out of sequence is a defect in a collaborator,
// not a recoverable condition.

// StartStaging opens a staging cycle: the retiring index becomes the new
// staging index and every registered structure clones its active slot
// into it, sized to additionally fit expectedNew fresh callables. The
// loader populates the staging slot between StartStaging and EndStaging.
func (s *Set) StartStaging(expectedNew int) {
	s.assertWritePermission("StartStaging")
	s.mustBe(stateIdle, "StartStaging")
	if expectedNew < 0 {
		panic(fmt.Sprintf("codeix: negative expectedNew %d", expectedNew))
	}

	active := s.ActiveIndex()
	next := retiringOf(active, s.StagingIndex())
	s.staging.Store(int32(next))

	for _, v := range s.structures {
		v.StartStaging(active, next, expectedNew)
	}
	s.state = stateStaged
}

// EndStaging finalizes the staging slot's contents. After this point no
// structural mutation of the staged generation is permitted; only
// CommitStaging or AbortStaging may follow.
func (s *Set) EndStaging() {
	s.assertWritePermission("EndStaging")
	s.mustBe(stateStaged, "EndStaging")
	staging := s.StagingIndex()
	for _, v := range s.structures {
		v.EndStaging(staging)
	}
	s.state = stateEnded
}

// CommitStaging publishes the staged generation: the staging index
// becomes the new active index. The active store is the single publish
// point; all staging-slot writes happen before it, so any reader that
// observes the new active value also observes the staged contents.
//
// The previously active index becomes the new retiring index, and the
// staging index moves to the slot that was retiring throughout this
// cycle. active != staging holds across both stores: the staging index
// is rewritten first (it is private to the writer), then active flips.
func (s *Set) CommitStaging() {
	s.assertWritePermission("CommitStaging")
	s.mustBe(stateEnded, "CommitStaging")

	active := s.ActiveIndex()
	staged := s.StagingIndex()
	s.staging.Store(int32(retiringOf(active, staged)))
	s.active.Store(int32(staged))

	s.state = stateIdle
	stagingCommits.Inc()
}

// AbortStaging discards the staged generation. The active index is
// untouched and no reader ever observes the discarded contents. Allowed
// from both Staged and Ended.
func (s *Set) AbortStaging() {
	s.assertWritePermission("AbortStaging")
	if s.state != stateStaged && s.state != stateEnded {
		s.mustBe(stateStaged, "AbortStaging")
	}
	staging := s.StagingIndex()
	for _, v := range s.structures {
		v.AbortStaging(staging)
	}
	s.state = stateIdle
	stagingAborts.Inc()
}

func (s *Set) mustBe(want stagingState, op string) {
	if s.state != want {
		panic(fmt.Sprintf("codeix: %s out of sequence (state=%d)", op, s.state))
	}
}
