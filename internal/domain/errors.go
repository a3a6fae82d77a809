package domain

import "errors"

var (
	// ErrAlreadyInProgress is returned when joining a room whose game has started.
	ErrAlreadyInProgress = errors.New("Game already in progress")
	// ErrNameTaken is returned when the nickname is already present in the room.
	ErrNameTaken = errors.New("Nickname already taken in this room")
	// ErrPlayerNotFound is returned when the nickname is not in the room.
	ErrPlayerNotFound = errors.New("Player not found")
	// ErrNotHost is returned when a captain-only action comes from a passenger.
	ErrNotHost = errors.New("Only the host can start the game")
	// ErrNotAllReady is returned when starting with players that are not ready.
	ErrNotAllReady = errors.New("Not all players are ready")
	// ErrAlreadySentThisRound is returned on a second message within one round.
	ErrAlreadySentThisRound = errors.New("You can only send one message per round")
	// ErrRoomNotFound is returned when the room id is unknown.
	ErrRoomNotFound = errors.New("Room not found")
	// ErrRoomExists is returned when creating a room with an id already in use.
	ErrRoomExists = errors.New("Room already exists")

	ErrInvalidNickname  = errors.New("Nickname must be between 2 and 15 characters")
	ErrRoomFull         = errors.New("All passenger pods are occupied")
	ErrNotConnected     = errors.New("Connection is not associated with a room")
	ErrWrongRound       = errors.New("Messages are not accepted during this phase")
	ErrGameNotCompleted = errors.New("The captain can only decide once the game is over")
	ErrDecisionMade     = errors.New("The captain has already decided")
	ErrBadRequest       = errors.New("Invalid request")

	// Collaborator failures never reach players; they select the fallback translation.
	ErrCollaboratorTimeout   = errors.New("collaborator timed out")
	ErrCollaboratorMalformed = errors.New("collaborator returned a malformed response")
)
