package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/progrunhq/progrun/internal/progerr"
	"github.com/progrunhq/progrun/internal/program/model"
)

// Collection names in the document store.
const (
	collPrograms   = "programs"
	collVersions   = "versions"
	collComponents = "ui_components"
	collExecutions = "executions"
)

// MongoProgramRepository implements ProgramRepository with MongoDB
type MongoProgramRepository struct {
	coll *mongo.Collection
}

// NewMongoProgramRepository creates a new MongoDB program repository
func NewMongoProgramRepository(db *mongo.Database) *MongoProgramRepository {
	return &MongoProgramRepository{coll: db.Collection(collPrograms)}
}

// Create creates a program
func (r *MongoProgramRepository) Create(ctx context.Context, program *model.Program) error {
	_, err := r.coll.InsertOne(ctx, program)
	if err != nil {
		return fmt.Errorf("failed to insert program: %w", err)
	}
	return nil
}

// FindByID finds a program by ID
func (r *MongoProgramRepository) FindByID(ctx context.Context, id string) (*model.Program, error) {
	var program model.Program
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&program)
	if err == mongo.ErrNoDocuments {
		return nil, progerr.NotFound("program", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find program: %w", err)
	}
	return &program, nil
}

// Update updates a program
func (r *MongoProgramRepository) Update(ctx context.Context, program *model.Program) error {
	result, err := r.coll.ReplaceOne(ctx, bson.M{"_id": program.ID}, program)
	if err != nil {
		return fmt.Errorf("failed to update program: %w", err)
	}
	if result.MatchedCount == 0 {
		return progerr.NotFound("program", program.ID)
	}
	return nil
}

// Delete deletes a program
func (r *MongoProgramRepository) Delete(ctx context.Context, id string) error {
	_, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// List lists programs, newest first
func (r *MongoProgramRepository) List(ctx context.Context, limit, offset int) ([]*model.Program, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list programs: %w", err)
	}
	defer cursor.Close(ctx)

	var programs []*model.Program
	if err := cursor.All(ctx, &programs); err != nil {
		return nil, err
	}
	return programs, nil
}

// MongoVersionRepository implements VersionRepository with MongoDB
type MongoVersionRepository struct {
	coll *mongo.Collection
}

// NewMongoVersionRepository creates a new MongoDB version repository
func NewMongoVersionRepository(db *mongo.Database) *MongoVersionRepository {
	return &MongoVersionRepository{coll: db.Collection(collVersions)}
}

// Create creates a version
func (r *MongoVersionRepository) Create(ctx context.Context, version *model.Version) error {
	_, err := r.coll.InsertOne(ctx, version)
	if err != nil {
		return fmt.Errorf("failed to insert version: %w", err)
	}
	return nil
}

// FindByID finds a version by ID
func (r *MongoVersionRepository) FindByID(ctx context.Context, id string) (*model.Version, error) {
	var version model.Version
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&version)
	if err == mongo.ErrNoDocuments {
		return nil, progerr.NotFound("version", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find version: %w", err)
	}
	return &version, nil
}

// FindByNumber finds a version by program and number
func (r *MongoVersionRepository) FindByNumber(ctx context.Context, programID string, number int) (*model.Version, error) {
	var version model.Version
	err := r.coll.FindOne(ctx, bson.M{"program_id": programID, "number": number}).Decode(&version)
	if err == mongo.ErrNoDocuments {
		return nil, progerr.NotFound("version", fmt.Sprintf("%s/%d", programID, number))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find version: %w", err)
	}
	return &version, nil
}

// ListByProgram lists a program's versions ordered by number
func (r *MongoVersionRepository) ListByProgram(ctx context.Context, programID string) ([]*model.Version, error) {
	opts := options.Find().SetSort(bson.D{{Key: "number", Value: 1}})

	cursor, err := r.coll.Find(ctx, bson.M{"program_id": programID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer cursor.Close(ctx)

	var versions []*model.Version
	if err := cursor.All(ctx, &versions); err != nil {
		return nil, err
	}
	return versions, nil
}

// Update updates a version
func (r *MongoVersionRepository) Update(ctx context.Context, version *model.Version) error {
	result, err := r.coll.ReplaceOne(ctx, bson.M{"_id": version.ID}, version)
	if err != nil {
		return fmt.Errorf("failed to update version: %w", err)
	}
	if result.MatchedCount == 0 {
		return progerr.NotFound("version", version.ID)
	}
	return nil
}

// NextNumber returns the next dense version number for a program
func (r *MongoVersionRepository) NextNumber(ctx context.Context, programID string) (int, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "number", Value: -1}})

	var latest model.Version
	err := r.coll.FindOne(ctx, bson.M{"program_id": programID}, opts).Decode(&latest)
	if err == mongo.ErrNoDocuments {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to find latest version: %w", err)
	}
	return latest.Number + 1, nil
}

// MongoComponentRepository implements ComponentRepository with MongoDB
type MongoComponentRepository struct {
	coll *mongo.Collection
}

// NewMongoComponentRepository creates a new MongoDB component repository
func NewMongoComponentRepository(db *mongo.Database) *MongoComponentRepository {
	return &MongoComponentRepository{coll: db.Collection(collComponents)}
}

// Create creates a component
func (r *MongoComponentRepository) Create(ctx context.Context, component *model.UiComponent) error {
	count, err := r.coll.CountDocuments(ctx, bson.M{
		"program_id": component.ProgramID,
		"version_id": component.VersionID,
		"name":       component.Name,
		"status":     "active",
	})
	if err != nil {
		return fmt.Errorf("failed to check component uniqueness: %w", err)
	}
	if count > 0 {
		return progerr.Validation("active component with this name already exists for the version")
	}

	_, err = r.coll.InsertOne(ctx, component)
	if err != nil {
		return fmt.Errorf("failed to insert component: %w", err)
	}
	return nil
}

// FindByID finds a component by ID
func (r *MongoComponentRepository) FindByID(ctx context.Context, id string) (*model.UiComponent, error) {
	var component model.UiComponent
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&component)
	if err == mongo.ErrNoDocuments {
		return nil, progerr.NotFound("ui component", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find component: %w", err)
	}
	return &component, nil
}

// FindByVersion finds the active component attached to a version
func (r *MongoComponentRepository) FindByVersion(ctx context.Context, programID, versionID string) (*model.UiComponent, error) {
	var component model.UiComponent
	err := r.coll.FindOne(ctx, bson.M{
		"program_id": programID,
		"version_id": versionID,
		"status":     "active",
	}).Decode(&component)
	if err == mongo.ErrNoDocuments {
		return nil, progerr.NotFound("ui component", versionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find component: %w", err)
	}
	return &component, nil
}

// Update updates a component
func (r *MongoComponentRepository) Update(ctx context.Context, component *model.UiComponent) error {
	result, err := r.coll.ReplaceOne(ctx, bson.M{"_id": component.ID}, component)
	if err != nil {
		return fmt.Errorf("failed to update component: %w", err)
	}
	if result.MatchedCount == 0 {
		return progerr.NotFound("ui component", component.ID)
	}
	return nil
}

// MongoExecutionRepository implements ExecutionRepository with MongoDB
type MongoExecutionRepository struct {
	coll *mongo.Collection
}

// NewMongoExecutionRepository creates a new MongoDB execution repository
func NewMongoExecutionRepository(db *mongo.Database) *MongoExecutionRepository {
	return &MongoExecutionRepository{coll: db.Collection(collExecutions)}
}

// Create creates an execution record
func (r *MongoExecutionRepository) Create(ctx context.Context, execution *model.Execution) error {
	_, err := r.coll.InsertOne(ctx, execution)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

// FindByID finds an execution by ID
func (r *MongoExecutionRepository) FindByID(ctx context.Context, id string) (*model.Execution, error) {
	var execution model.Execution
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&execution)
	if err == mongo.ErrNoDocuments {
		return nil, progerr.NotFound("execution", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find execution: %w", err)
	}
	return &execution, nil
}

// Update updates an execution
func (r *MongoExecutionRepository) Update(ctx context.Context, execution *model.Execution) error {
	result, err := r.coll.ReplaceOne(ctx, bson.M{"_id": execution.ID}, execution)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	if result.MatchedCount == 0 {
		return progerr.NotFound("execution", execution.ID)
	}
	return nil
}

// UpdateStatus updates only the status field
func (r *MongoExecutionRepository) UpdateStatus(ctx context.Context, id string, status model.ExecutionStatus) error {
	result, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": status}},
	)
	if err != nil {
		return fmt.Errorf("failed to update execution status: %w", err)
	}
	if result.MatchedCount == 0 {
		return progerr.NotFound("execution", id)
	}
	return nil
}

// ListByProgram lists executions for a program, newest first
func (r *MongoExecutionRepository) ListByProgram(ctx context.Context, programID string, limit, offset int) ([]*model.Execution, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := r.coll.Find(ctx, bson.M{"program_id": programID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer cursor.Close(ctx)

	var executions []*model.Execution
	if err := cursor.All(ctx, &executions); err != nil {
		return nil, err
	}
	return executions, nil
}
