package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/progrunhq/progrun/internal/progerr"
	"github.com/progrunhq/progrun/internal/workflow/model"
)

// Collection names in the document store.
const (
	collWorkflows          = "workflows"
	collWorkflowExecutions = "workflow_executions"
)

// MongoWorkflowRepository implements WorkflowRepository with MongoDB
type MongoWorkflowRepository struct {
	coll *mongo.Collection
}

// NewMongoWorkflowRepository creates a new MongoDB workflow repository
func NewMongoWorkflowRepository(db *mongo.Database) *MongoWorkflowRepository {
	return &MongoWorkflowRepository{coll: db.Collection(collWorkflows)}
}

// Create creates a workflow
func (r *MongoWorkflowRepository) Create(ctx context.Context, workflow *model.Workflow) error {
	_, err := r.coll.InsertOne(ctx, workflow)
	if err != nil {
		return fmt.Errorf("failed to insert workflow: %w", err)
	}
	return nil
}

// FindByID finds a workflow by ID
func (r *MongoWorkflowRepository) FindByID(ctx context.Context, id string) (*model.Workflow, error) {
	var workflow model.Workflow
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&workflow)
	if err == mongo.ErrNoDocuments {
		return nil, progerr.NotFound("workflow", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find workflow: %w", err)
	}
	return &workflow, nil
}

// Update updates a workflow
func (r *MongoWorkflowRepository) Update(ctx context.Context, workflow *model.Workflow) error {
	result, err := r.coll.ReplaceOne(ctx, bson.M{"_id": workflow.ID}, workflow)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	if result.MatchedCount == 0 {
		return progerr.NotFound("workflow", workflow.ID)
	}
	return nil
}

// Delete deletes a workflow
func (r *MongoWorkflowRepository) Delete(ctx context.Context, id string) error {
	_, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// List lists workflows, newest first
func (r *MongoWorkflowRepository) List(ctx context.Context, limit, offset int) ([]*model.Workflow, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer cursor.Close(ctx)

	var workflows []*model.Workflow
	if err := cursor.All(ctx, &workflows); err != nil {
		return nil, err
	}
	return workflows, nil
}

// MongoWorkflowExecutionRepository implements WorkflowExecutionRepository
// with MongoDB
type MongoWorkflowExecutionRepository struct {
	coll *mongo.Collection
}

// NewMongoWorkflowExecutionRepository creates a new MongoDB workflow
// execution repository
func NewMongoWorkflowExecutionRepository(db *mongo.Database) *MongoWorkflowExecutionRepository {
	return &MongoWorkflowExecutionRepository{coll: db.Collection(collWorkflowExecutions)}
}

// Create creates a workflow execution
func (r *MongoWorkflowExecutionRepository) Create(ctx context.Context, execution *model.WorkflowExecution) error {
	_, err := r.coll.InsertOne(ctx, execution)
	if err != nil {
		return fmt.Errorf("failed to insert workflow execution: %w", err)
	}
	return nil
}

// FindByID finds a workflow execution by ID
func (r *MongoWorkflowExecutionRepository) FindByID(ctx context.Context, id string) (*model.WorkflowExecution, error) {
	var execution model.WorkflowExecution
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&execution)
	if err == mongo.ErrNoDocuments {
		return nil, progerr.NotFound("workflow execution", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find workflow execution: %w", err)
	}
	return &execution, nil
}

// Update updates a workflow execution
func (r *MongoWorkflowExecutionRepository) Update(ctx context.Context, execution *model.WorkflowExecution) error {
	result, err := r.coll.ReplaceOne(ctx, bson.M{"_id": execution.ID}, execution)
	if err != nil {
		return fmt.Errorf("failed to update workflow execution: %w", err)
	}
	if result.MatchedCount == 0 {
		return progerr.NotFound("workflow execution", execution.ID)
	}
	return nil
}

// ListByWorkflow lists executions of one workflow, newest first
func (r *MongoWorkflowExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit, offset int) ([]*model.WorkflowExecution, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := r.coll.Find(ctx, bson.M{"workflow_id": workflowID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow executions: %w", err)
	}
	defer cursor.Close(ctx)

	var executions []*model.WorkflowExecution
	if err := cursor.All(ctx, &executions); err != nil {
		return nil, err
	}
	return executions, nil
}
