package pollr

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	pollsCollection = "pollr_polls"
	votesCollection = "pollr_votes"
)

// MongoIndex is an Index stored in two MongoDB collections.
type MongoIndex struct {
	polls *mongo.Collection
	votes *mongo.Collection
}

func NewMongoIndex(db *mongo.Database) *MongoIndex {
	return &MongoIndex{
		polls: db.Collection(pollsCollection),
		votes: db.Collection(votesCollection),
	}
}

// EnsureIndexes creates the secondary indexes the queries rely on.
func (m *MongoIndex) EnsureIndexes(ctx context.Context) error {
	if _, err := m.polls.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "outpoint", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("creating poll indexes: %w", err)
	}
	if _, err := m.votes.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "pollId", Value: 1}, {Key: "voter", Value: 1}},
	}); err != nil {
		return fmt.Errorf("creating vote indexes: %w", err)
	}
	return nil
}

func ignoreDuplicate(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

func (m *MongoIndex) InsertPoll(ctx context.Context, poll *Poll) error {
	_, err := m.polls.InsertOne(ctx, poll)
	return ignoreDuplicate(err)
}

func (m *MongoIndex) ClosePoll(ctx context.Context, pollID, closeOutpoint string) error {
	_, err := m.polls.UpdateOne(ctx,
		bson.M{"_id": pollID, "closed": false},
		bson.M{"$set": bson.M{"closed": true, "closeOutpoint": closeOutpoint}},
	)
	return err
}

func (m *MongoIndex) InsertVote(ctx context.Context, vote *Vote) error {
	_, err := m.votes.InsertOne(ctx, vote)
	return ignoreDuplicate(err)
}

func (m *MongoIndex) FindPoll(ctx context.Context, pollID string) (*Poll, error) {
	var poll Poll
	err := m.polls.FindOne(ctx, bson.M{"_id": pollID}).Decode(&poll)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil //nolint:nilnil // unknown poll
	} else if err != nil {
		return nil, err
	}
	return &poll, nil
}

func (m *MongoIndex) FindPolls(ctx context.Context, status PollStatus) ([]*Poll, error) {
	filter := bson.M{}
	switch status {
	case PollStatusOpen:
		filter["closed"] = false
	case PollStatusClosed:
		filter["closed"] = true
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := m.polls.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	polls := make([]*Poll, 0)
	if err := cursor.All(ctx, &polls); err != nil {
		return nil, err
	}
	return polls, nil
}

func (m *MongoIndex) FindVotes(ctx context.Context, pollID string) ([]*Vote, error) {
	cursor, err := m.votes.Find(ctx, bson.M{"pollId": pollID}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	votes := make([]*Vote, 0)
	if err := cursor.All(ctx, &votes); err != nil {
		return nil, err
	}
	return votes, nil
}

func (m *MongoIndex) HasVoted(ctx context.Context, pollID, voter string) (bool, error) {
	err := m.votes.FindOne(ctx, bson.M{"pollId": pollID, "voter": voter}).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

func (m *MongoIndex) DeleteOutpoint(ctx context.Context, outpoint string) error {
	var poll Poll
	err := m.polls.FindOneAndDelete(ctx, bson.M{"outpoint": outpoint}).Decode(&poll)
	switch {
	case err == nil:
		if _, err := m.votes.DeleteMany(ctx, bson.M{"pollId": poll.ID}); err != nil {
			return err
		}
		return nil
	case !errors.Is(err, mongo.ErrNoDocuments):
		return err
	}
	if _, err := m.polls.UpdateOne(ctx,
		bson.M{"closeOutpoint": outpoint},
		bson.M{"$set": bson.M{"closed": false}, "$unset": bson.M{"closeOutpoint": ""}},
	); err != nil {
		return err
	}
	_, err = m.votes.DeleteOne(ctx, bson.M{"_id": outpoint})
	return err
}

var _ Index = (*MongoIndex)(nil)
