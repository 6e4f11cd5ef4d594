package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"github.com/spider-crawler/crawlengine/internal/model"
	"github.com/spider-crawler/crawlengine/internal/urlutil"
)

// cloudQueueMaxDelay is SQS's own ceiling on a message's DelaySeconds
// attribute; retry requests beyond this are clamped.
const cloudQueueMaxDelay = 900

// cloudQueueNames holds the prefix-derived name of each logical queue,
// with the two priority lanes declared FIFO (.fifo suffix) so MessageGroupId
// partitioning by domain gives ordered, at-least-once delivery per group.
type cloudQueueNames struct {
	frontierNormal   string
	frontierPriority string
	parseNormal      string
	parsePriority    string
	retry            string
	dead             string
}

// CloudQueueBroker is the cloud-managed-queue broker variant: one SQS
// queue per logical queue, FIFO priority queues keyed by domain as the
// message group, native DelaySeconds for retries, and the dead-letter
// queue wired as the redrive target for the two work queues.
type CloudQueueBroker struct {
	client *sqs.Client
	names  cloudQueueNames
	urls   map[string]string

	enqueueErrors atomic.Int64
}

// NewCloudQueueBroker loads AWS credentials/region from the environment
// (the way every aws-sdk-go-v2 service client is normally constructed)
// and ensures the six queues exist, wiring the dead-letter queue as the
// redrive target for the frontier and parse queues.
func NewCloudQueueBroker(ctx context.Context, region, queuePrefix, deadLetterTarget string) (*CloudQueueBroker, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("cloud queue broker: load aws config: %w", err)
	}

	b := &CloudQueueBroker{
		client: sqs.NewFromConfig(cfg),
		names: cloudQueueNames{
			frontierNormal:   queuePrefix + "frontier",
			frontierPriority: queuePrefix + "frontier-priority.fifo",
			parseNormal:      queuePrefix + "parsing",
			parsePriority:    queuePrefix + "parsing-priority.fifo",
			retry:            queuePrefix + "retry",
			dead:             queuePrefix + "dead",
		},
		urls: make(map[string]string),
	}

	if err := b.ensureQueues(ctx, deadLetterTarget); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *CloudQueueBroker) ensureQueues(ctx context.Context, deadLetterTarget string) error {
	order := []string{b.names.dead, b.names.retry, b.names.frontierNormal, b.names.frontierPriority, b.names.parseNormal, b.names.parsePriority}
	for _, name := range order {
		url, err := b.resolveOrCreateQueue(ctx, name, deadLetterTarget)
		if err != nil {
			return fmt.Errorf("cloud queue broker: queue %s: %w", name, err)
		}
		b.urls[name] = url
	}
	return nil
}

func (b *CloudQueueBroker) resolveOrCreateQueue(ctx context.Context, name, deadLetterTarget string) (string, error) {
	got, err := b.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err == nil {
		return *got.QueueUrl, nil
	}

	attrs := b.queueAttributes(name, deadLetterTarget)
	created, err := b.client.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName:  aws.String(name),
		Attributes: attrs,
	})
	if err != nil {
		return "", err
	}
	return *created.QueueUrl, nil
}

func (b *CloudQueueBroker) queueAttributes(name, deadLetterTarget string) map[string]string {
	attrs := map[string]string{
		"MessageRetentionPeriod":   "1209600",
		"VisibilityTimeoutSeconds": "300",
		"ReceiveMessageWaitTimeSeconds": "20",
	}

	if isFIFOQueueName(name) {
		attrs["FifoQueue"] = "true"
		attrs["ContentBasedDeduplication"] = "true"
	}

	if name == b.names.retry {
		attrs["DelaySeconds"] = "60"
	}

	if (name == b.names.frontierNormal || name == b.names.parseNormal) && deadLetterTarget != "" {
		redrive, _ := json.Marshal(map[string]any{
			"deadLetterTargetArn": deadLetterTarget,
			"maxReceiveCount":     3,
		})
		attrs["RedrivePolicy"] = string(redrive)
	}

	return attrs
}

func isFIFOQueueName(name string) bool {
	return len(name) >= 5 && name[len(name)-5:] == ".fifo"
}

func (b *CloudQueueBroker) EnqueueFrontier(ctx context.Context, u *model.FrontierURL) bool {
	body, err := json.Marshal(u)
	if err != nil {
		b.enqueueErrors.Add(1)
		return false
	}

	if IsPriority(u.Priority) {
		return b.sendFIFO(ctx, b.names.frontierPriority, string(body), u.Domain, u.URL+"-"+u.CreatedAt.Format(time.RFC3339Nano))
	}
	return b.sendStandard(ctx, b.names.frontierNormal, string(body), map[string]types.MessageAttributeValue{
		"Priority": stringAttr(fmt.Sprintf("%d", u.Priority)),
		"Domain":   stringAttr(u.Domain),
	})
}

func (b *CloudQueueBroker) DequeueFrontier(ctx context.Context) (*model.FrontierURL, bool) {
	if raw, ok := b.receiveOne(ctx, b.names.frontierPriority); ok {
		return decodeFrontier(raw)
	}
	if raw, ok := b.receiveOne(ctx, b.names.frontierNormal); ok {
		return decodeFrontier(raw)
	}
	return nil, false
}

func (b *CloudQueueBroker) EnqueueParse(ctx context.Context, t *model.ParseTask) bool {
	body, err := json.Marshal(t)
	if err != nil {
		b.enqueueErrors.Add(1)
		return false
	}

	if IsPriority(t.Priority) {
		domain, err := urlutil.ExtractHost(t.URL)
		if err != nil || domain == "" {
			domain = "default"
		}
		return b.sendFIFO(ctx, b.names.parsePriority, string(body), domain, t.TaskID)
	}
	return b.sendStandard(ctx, b.names.parseNormal, string(body), map[string]types.MessageAttributeValue{
		"Priority":    stringAttr(fmt.Sprintf("%d", t.Priority)),
		"RequiresOCR": stringAttr(fmt.Sprintf("%t", t.RequiresOCR)),
	})
}

func (b *CloudQueueBroker) DequeueParse(ctx context.Context) (*model.ParseTask, bool) {
	if raw, ok := b.receiveOne(ctx, b.names.parsePriority); ok {
		return decodeParseTask(raw)
	}
	if raw, ok := b.receiveOne(ctx, b.names.parseNormal); ok {
		return decodeParseTask(raw)
	}
	return nil, false
}

func (b *CloudQueueBroker) EnqueueRetry(ctx context.Context, u *model.FrontierURL, delaySeconds int) bool {
	delay := delaySeconds
	if delay > cloudQueueMaxDelay {
		delay = cloudQueueMaxDelay
	}

	body, err := json.Marshal(u)
	if err != nil {
		b.enqueueErrors.Add(1)
		return false
	}

	_, err = b.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(b.urls[b.names.retry]),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: int32(delay),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"RetryCount": stringAttr(fmt.Sprintf("%d", u.RetryCount)),
			"Domain":     stringAttr(u.Domain),
		},
	})
	if err != nil {
		b.enqueueErrors.Add(1)
		return false
	}
	return true
}

func (b *CloudQueueBroker) EnqueueDead(ctx context.Context, u *model.FrontierURL, reason string) bool {
	entry := model.DeadLetterEntry{URL: u, DiedAt: time.Now(), Reason: reason}
	body, err := json.Marshal(entry)
	if err != nil {
		b.enqueueErrors.Add(1)
		return false
	}

	return b.sendStandard(ctx, b.names.dead, string(body), map[string]types.MessageAttributeValue{
		"Reason":          stringAttr(reason),
		"Domain":          stringAttr(u.Domain),
		"FinalRetryCount": stringAttr(fmt.Sprintf("%d", u.RetryCount)),
	})
}

// ProcessRetry pops every message currently visible on the retry queue
// (SQS has already held each one back via its own DelaySeconds) and
// re-sends it to the appropriate frontier queue.
func (b *CloudQueueBroker) ProcessRetry(ctx context.Context) int {
	moved := 0
	for {
		out, err := b.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(b.urls[b.names.retry]),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     1,
		})
		if err != nil || len(out.Messages) == 0 {
			return moved
		}

		for _, msg := range out.Messages {
			u, ok := decodeFrontier(aws.ToString(msg.Body))
			if ok && b.EnqueueFrontier(ctx, u) {
				moved++
			}
			b.deleteMessage(ctx, b.names.retry, aws.ToString(msg.ReceiptHandle))
		}
	}
}

func (b *CloudQueueBroker) sendStandard(ctx context.Context, queueName, body string, attrs map[string]types.MessageAttributeValue) bool {
	_, err := b.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(b.urls[queueName]),
		MessageBody:       aws.String(body),
		MessageAttributes: attrs,
	})
	if err != nil {
		b.enqueueErrors.Add(1)
		return false
	}
	return true
}

// sendFIFO sends to a FIFO queue with domain as the message group id, so
// ordering is preserved per-domain without serializing across domains.
func (b *CloudQueueBroker) sendFIFO(ctx context.Context, queueName, body, groupID, dedupSeed string) bool {
	groupID = nonEmpty(groupID, "default")
	_, err := b.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:               aws.String(b.urls[queueName]),
		MessageBody:            aws.String(body),
		MessageGroupId:         aws.String(groupID),
		MessageDeduplicationId: aws.String(dedupID(dedupSeed)),
	})
	if err != nil {
		b.enqueueErrors.Add(1)
		return false
	}
	return true
}

func (b *CloudQueueBroker) receiveOne(ctx context.Context, queueName string) (string, bool) {
	out, err := b.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(b.urls[queueName]),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     1,
	})
	if err != nil || len(out.Messages) == 0 {
		return "", false
	}

	msg := out.Messages[0]
	b.deleteMessage(ctx, queueName, aws.ToString(msg.ReceiptHandle))
	return aws.ToString(msg.Body), true
}

func (b *CloudQueueBroker) deleteMessage(ctx context.Context, queueName, receiptHandle string) {
	_, _ = b.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(b.urls[queueName]),
		ReceiptHandle: aws.String(receiptHandle),
	})
}

func (b *CloudQueueBroker) Stats(ctx context.Context) Stats {
	frontierNormal := b.approxDepth(ctx, b.names.frontierNormal)
	frontierPriority := b.approxDepth(ctx, b.names.frontierPriority)
	parseNormal := b.approxDepth(ctx, b.names.parseNormal)
	parsePriority := b.approxDepth(ctx, b.names.parsePriority)
	retry := b.approxDepth(ctx, b.names.retry)
	dead := b.approxDepth(ctx, b.names.dead)

	return Stats{
		FrontierNormal:   frontierNormal,
		FrontierPriority: frontierPriority,
		ParseNormal:      parseNormal,
		ParsePriority:    parsePriority,
		RetryPending:     retry,
		DeadLetterTotal:  dead,
		EnqueueErrors:    b.enqueueErrors.Load(),
	}
}

func (b *CloudQueueBroker) approxDepth(ctx context.Context, queueName string) int {
	out, err := b.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(b.urls[queueName]),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0
	}
	raw, ok := out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)]
	if !ok {
		return 0
	}
	var n int
	fmt.Sscanf(raw, "%d", &n)
	return n
}

func (b *CloudQueueBroker) Close() error { return nil }

func stringAttr(value string) types.MessageAttributeValue {
	return types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(value)}
}

func nonEmpty(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// dedupID returns seed as the FIFO deduplication id, so sends with the same
// seed share one id; only an empty seed gets a fresh uuid.
func dedupID(seed string) string {
	if seed == "" {
		return uuid.NewString()
	}
	return seed
}

var _ Broker = (*CloudQueueBroker)(nil)
