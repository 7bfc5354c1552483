package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"lazone/api/internal/db"
	"lazone/api/internal/models"
	"lazone/api/internal/utils"
)

// mongoStore implements Store on MongoDB.
type mongoStore struct {
	db *mongo.Database
}

// NewMongoStore creates a Store backed by db.
func NewMongoStore(database *mongo.Database) Store {
	return &mongoStore{db: database}
}

func (s *mongoStore) coll(name string) *mongo.Collection {
	return s.db.Collection(name)
}

func findOne[T any](ctx context.Context, c *mongo.Collection, filter interface{}, opts ...*options.FindOneOptions) (*T, error) {
	var out T
	if err := c.FindOne(ctx, filter, opts...).Decode(&out); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

func findAll[T any](ctx context.Context, c *mongo.Collection, filter interface{}, opts ...*options.FindOptions) ([]T, error) {
	cursor, err := c.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	out := []T{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// --- Accounts ---

func (s *mongoStore) GetAccount(ctx context.Context, id utils.SixID) (*models.Account, error) {
	acc, err := findOne[models.Account](ctx, s.coll(AccountsCollection), bson.M{"_id": id})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("error finding account %s: %w", id, err)
	}
	return acc, err
}

func (s *mongoStore) UpsertAccount(ctx context.Context, account *models.Account) error {
	now := time.Now().UTC()
	account.UpdatedAt = now
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.coll(AccountsCollection).ReplaceOne(ctx, bson.M{"_id": account.ID}, account, opts); err != nil {
		return fmt.Errorf("failed to upsert account %s: %w", account.ID, err)
	}
	return nil
}

func (s *mongoStore) SetFreeListingLimit(ctx context.Context, id utils.SixID, limit *int) error {
	now := time.Now().UTC()
	update := bson.M{"$set": bson.M{"updated_at": now}, "$unset": bson.M{"free_listing_limit": ""}}
	if limit != nil {
		update = bson.M{"$set": bson.M{"free_listing_limit": *limit, "updated_at": now}}
	}
	res, err := s.coll(AccountsCollection).UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to set free listing limit of %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *mongoStore) ConsumeFreeListing(ctx context.Context, id utils.SixID, listingType models.ListingType, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	field := models.FreeListingsUsedField(listingType)
	now := time.Now().UTC()
	filter := bson.M{
		"_id": id,
		"$or": bson.A{
			bson.M{field: bson.M{"$lt": limit}},
			bson.M{field: bson.M{"$exists": false}},
		},
	}
	update := bson.M{
		"$inc":         bson.M{field: 1},
		"$set":         bson.M{"updated_at": now},
		"$setOnInsert": bson.M{"created_at": now},
	}
	// Upsert covers accounts that never had a row. When the row exists but
	// the counter is at the limit, the upsert collides on _id: no quota left.
	res, err := s.coll(AccountsCollection).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to consume free listing for account %s: %w", id, err)
	}
	return res.ModifiedCount == 1 || res.UpsertedCount == 1, nil
}

// --- Listings ---

func (s *mongoStore) InsertListing(ctx context.Context, listing *models.Listing) error {
	err := db.Try(func() error {
		if listing.ID.IsZero() {
			listing.ID = utils.NewSixID()
		}
		_, insertErr := s.coll(ListingsCollection).InsertOne(ctx, listing)
		if insertErr != nil && db.IsMongoDuplicateKeyError(insertErr) {
			listing.ID = utils.SixID{}
		}
		return insertErr
	})
	if err != nil {
		return fmt.Errorf("failed to insert listing for owner %s: %w", listing.OwnerID, err)
	}
	return nil
}

func (s *mongoStore) GetListing(ctx context.Context, id utils.SixID) (*models.Listing, error) {
	l, err := findOne[models.Listing](ctx, s.coll(ListingsCollection), bson.M{"_id": id, "deleted": false})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("error finding listing %s: %w", id, err)
	}
	return l, err
}

func (s *mongoStore) ListListingsByOwner(ctx context.Context, owner utils.SixID) ([]models.Listing, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	out, err := findAll[models.Listing](ctx, s.coll(ListingsCollection), bson.M{"owner_id": owner, "deleted": false}, opts)
	if err != nil {
		return nil, fmt.Errorf("error listing listings of owner %s: %w", owner, err)
	}
	return out, nil
}

func (s *mongoStore) UpdateListing(ctx context.Context, id, owner utils.SixID, set map[string]interface{}) (*models.Listing, error) {
	update := bson.M{}
	for k, v := range set {
		update[k] = v
	}
	update["updated_at"] = time.Now().UTC()

	filter := bson.M{"_id": id, "owner_id": owner, "deleted": false}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated models.Listing
	err := s.coll(ListingsCollection).FindOneAndUpdate(ctx, filter, bson.M{"$set": update}, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update listing %s: %w", id, err)
	}
	return &updated, nil
}

func (s *mongoStore) MarkListingPublished(ctx context.Context, id, owner utils.SixID, at time.Time) error {
	filter := bson.M{"_id": id, "owner_id": owner, "deleted": false, "published_at": bson.M{"$exists": false}}
	update := bson.M{"$set": bson.M{"published_at": at, "updated_at": at}}
	res, err := s.coll(ListingsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to mark listing %s published: %w", id, err)
	}
	if res.MatchedCount == 0 {
		// Already published is fine; anything else is not found.
		n, err := s.coll(ListingsCollection).CountDocuments(ctx, bson.M{"_id": id, "owner_id": owner, "deleted": false})
		if err != nil {
			return fmt.Errorf("error checking listing %s: %w", id, err)
		}
		if n == 0 {
			return ErrNotFound
		}
	}
	return nil
}

func (s *mongoStore) ClaimListingPublish(ctx context.Context, id, owner utils.SixID, at, staleBefore time.Time) (bool, error) {
	filter := bson.M{
		"_id": id, "owner_id": owner, "deleted": false, "is_active": false,
		"$or": bson.A{
			bson.M{"publish_claimed_at": bson.M{"$exists": false}},
			bson.M{"publish_claimed_at": bson.M{"$lt": staleBefore}},
		},
	}
	update := bson.M{"$set": bson.M{"publish_claimed_at": at}}
	res, err := s.coll(ListingsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to claim listing %s: %w", id, err)
	}
	if res.MatchedCount == 1 {
		return true, nil
	}
	n, err := s.coll(ListingsCollection).CountDocuments(ctx, bson.M{"_id": id, "owner_id": owner, "deleted": false})
	if err != nil {
		return false, fmt.Errorf("error checking listing %s: %w", id, err)
	}
	if n == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

func (s *mongoStore) ReleaseListingClaim(ctx context.Context, id utils.SixID, at time.Time) error {
	filter := bson.M{"_id": id, "publish_claimed_at": at}
	if _, err := s.coll(ListingsCollection).UpdateOne(ctx, filter, bson.M{"$unset": bson.M{"publish_claimed_at": ""}}); err != nil {
		return fmt.Errorf("failed to release claim on listing %s: %w", id, err)
	}
	return nil
}

func (s *mongoStore) ActivateListing(ctx context.Context, id utils.SixID, source models.EntitlementSource, at time.Time) (bool, error) {
	filter := bson.M{"_id": id, "deleted": false, "is_active": false}
	update := bson.M{
		"$set": bson.M{
			"is_active":          true,
			"entitlement_source": source,
			"activated_at":       at,
			"updated_at":         at,
		},
		"$unset": bson.M{"publish_claimed_at": ""},
	}
	res, err := s.coll(ListingsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to activate listing %s: %w", id, err)
	}
	if res.ModifiedCount == 1 {
		return true, nil
	}
	// Diagnose: already active or missing.
	if _, err := s.GetListing(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *mongoStore) AddListingImage(ctx context.Context, id, owner utils.SixID, key string) error {
	filter := bson.M{"_id": id, "owner_id": owner, "deleted": false}
	update := bson.M{"$push": bson.M{"images": key}, "$set": bson.M{"updated_at": time.Now().UTC()}}
	res, err := s.coll(ListingsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to add image to listing %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *mongoStore) SoftDeleteListing(ctx context.Context, id utils.SixID) error {
	now := time.Now().UTC()
	update := bson.M{"$set": bson.M{"deleted": true, "is_active": false, "updated_at": now}}
	res, err := s.coll(ListingsCollection).UpdateOne(ctx, bson.M{"_id": id, "deleted": false}, update)
	if err != nil {
		return fmt.Errorf("failed to delete listing %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Payments ---

func (s *mongoStore) InsertPayment(ctx context.Context, p *models.Payment) error {
	p.GenIDIfEmpty()
	if _, err := s.coll(PaymentsCollection).InsertOne(ctx, p); err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert payment %s: %w", p.TransactionRef, err)
	}
	return nil
}

func (s *mongoStore) GetPaymentByRef(ctx context.Context, ref string) (*models.Payment, error) {
	p, err := findOne[models.Payment](ctx, s.coll(PaymentsCollection), bson.M{"transaction_ref": ref})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("error finding payment %s: %w", ref, err)
	}
	return p, err
}

func (s *mongoStore) GetPaymentByProviderTransaction(ctx context.Context, providerTxID string) (*models.Payment, error) {
	p, err := findOne[models.Payment](ctx, s.coll(PaymentsCollection), bson.M{"provider_transaction_id": providerTxID})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("error finding payment for provider transaction %s: %w", providerTxID, err)
	}
	return p, err
}

func (s *mongoStore) SetPaymentSession(ctx context.Context, ref, sessionID string) error {
	update := bson.M{"$set": bson.M{"provider_session_id": sessionID, "updated_at": time.Now().UTC()}}
	res, err := s.coll(PaymentsCollection).UpdateOne(ctx, bson.M{"transaction_ref": ref}, update)
	if err != nil {
		return fmt.Errorf("failed to attach session to payment %s: %w", ref, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *mongoStore) CompletePayment(ctx context.Context, p *models.Payment, at time.Time) (bool, error) {
	set := bson.M{
		"status":       models.PaymentStatusCompleted,
		"completed_at": at,
		"updated_at":   at,
	}
	if p.ProviderTransactionID != "" {
		set["provider_transaction_id"] = p.ProviderTransactionID
	}
	if p.ProviderSessionID != "" {
		set["provider_session_id"] = p.ProviderSessionID
	}
	onInsert := bson.M{
		"_id":            utils.NewSixID(),
		"user_id":        p.UserID,
		"amount":         p.Amount,
		"currency":       p.Currency,
		"payment_method": p.PaymentMethod,
		"created_at":     at,
	}
	if p.PropertyID != nil {
		onInsert["property_id"] = *p.PropertyID
	}
	if p.ListingType != "" {
		onInsert["listing_type"] = p.ListingType
	}
	if p.ProductID != "" {
		onInsert["product_id"] = p.ProductID
	}

	filter := bson.M{"transaction_ref": p.TransactionRef, "status": models.PaymentStatusPending}
	update := bson.M{"$set": set, "$setOnInsert": onInsert}
	// The unique index on transaction_ref is the serialization point: when
	// the row exists but is no longer pending, the upsert collides.
	res, err := s.coll(PaymentsCollection).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to complete payment %s: %w", p.TransactionRef, err)
	}
	return res.ModifiedCount == 1 || res.UpsertedCount == 1, nil
}

func (s *mongoStore) FailPayment(ctx context.Context, ref, reason string, at time.Time) (bool, error) {
	filter := bson.M{"transaction_ref": ref, "status": models.PaymentStatusPending}
	update := bson.M{"$set": bson.M{"status": models.PaymentStatusFailed, "failure_reason": reason, "updated_at": at}}
	res, err := s.coll(PaymentsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to fail payment %s: %w", ref, err)
	}
	return res.ModifiedCount == 1, nil
}

func (s *mongoStore) FailOtherPendingPayments(ctx context.Context, user, property utils.SixID, keepRef, reason string, at time.Time) (int64, error) {
	filter := bson.M{
		"user_id":         user,
		"property_id":     property,
		"status":          models.PaymentStatusPending,
		"transaction_ref": bson.M{"$ne": keepRef},
	}
	update := bson.M{"$set": bson.M{"status": models.PaymentStatusFailed, "failure_reason": reason, "updated_at": at}}
	res, err := s.coll(PaymentsCollection).UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to void pending payments for property %s: %w", property, err)
	}
	return res.ModifiedCount, nil
}

func (s *mongoStore) LatestPaymentForProperty(ctx context.Context, user, property utils.SixID) (*models.Payment, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	p, err := findOne[models.Payment](ctx, s.coll(PaymentsCollection), bson.M{"user_id": user, "property_id": property}, opts)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("error finding payments for property %s: %w", property, err)
	}
	return p, err
}

// --- Credits ---

func (s *mongoStore) InsertCreditPurchase(ctx context.Context, c *models.CreditPurchase) (bool, error) {
	c.GenIDIfEmpty()
	if _, err := s.coll(CreditPurchasesCollection).InsertOne(ctx, c); err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert credit purchase %s: %w", c.TransactionID, err)
	}
	return true, nil
}

func (s *mongoStore) SumAvailableCredits(ctx context.Context, user utils.SixID) (int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"user_id": user, "status": models.CreditStatusActive, "credits_remaining": bson.M{"$gt": 0}}}},
		{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": "$credits_remaining"}}}},
	}
	cursor, err := s.coll(CreditPurchasesCollection).Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("failed to sum credits for %s: %w", user, err)
	}
	defer cursor.Close(ctx)
	var rows []struct {
		Total int `bson:"total"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return 0, fmt.Errorf("failed to decode credit sum for %s: %w", user, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Total, nil
}

func (s *mongoStore) ConsumePurchasedCredit(ctx context.Context, user utils.SixID) (bool, error) {
	filter := bson.M{"user_id": user, "status": models.CreditStatusActive, "credits_remaining": bson.M{"$gt": 0}}
	update := bson.M{"$inc": bson.M{"credits_remaining": -1}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetReturnDocument(options.After)

	var after models.CreditPurchase
	err := s.coll(CreditPurchasesCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&after)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, fmt.Errorf("failed to consume credit for %s: %w", user, err)
	}
	if after.CreditsRemaining == 0 {
		_, err := s.coll(CreditPurchasesCollection).UpdateOne(ctx,
			bson.M{"_id": after.ID, "credits_remaining": 0},
			bson.M{"$set": bson.M{"status": models.CreditStatusExhausted}})
		if err != nil {
			return true, fmt.Errorf("consumed credit but failed to mark block %s exhausted: %w", after.ID, err)
		}
	}
	return true, nil
}

// --- Subscriptions ---

func (s *mongoStore) GetSubscription(ctx context.Context, user utils.SixID) (*models.Subscription, error) {
	sub, err := findOne[models.Subscription](ctx, s.coll(SubscriptionsCollection), bson.M{"user_id": user})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("error finding subscription of %s: %w", user, err)
	}
	return sub, err
}

func (s *mongoStore) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	now := time.Now().UTC()
	sub.UpdatedAt = now
	set := bson.M{
		"subscription_type":       sub.SubscriptionType,
		"active_until":            sub.ActiveUntil,
		"credits_remaining":       sub.CreditsRemaining,
		"period_start":            sub.PeriodStart,
		"next_reset_at":           sub.NextResetAt,
		"original_transaction_id": sub.OriginalTransactionID,
		"updated_at":              now,
	}
	onInsert := bson.M{"_id": utils.NewSixID(), "created_at": now}
	_, err := s.coll(SubscriptionsCollection).UpdateOne(ctx,
		bson.M{"user_id": sub.UserID},
		bson.M{"$set": set, "$setOnInsert": onInsert},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert subscription of %s: %w", sub.UserID, err)
	}
	return nil
}

func (s *mongoStore) ConsumeSubscriptionCredit(ctx context.Context, user utils.SixID, now time.Time) (bool, error) {
	filter := bson.M{
		"user_id":           user,
		"active_until":      bson.M{"$gt": now},
		"credits_remaining": bson.M{"$gt": 0},
	}
	update := bson.M{"$inc": bson.M{"credits_remaining": -1}, "$set": bson.M{"updated_at": now}}
	res, err := s.coll(SubscriptionsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to consume subscription credit for %s: %w", user, err)
	}
	return res.ModifiedCount == 1, nil
}

func (s *mongoStore) RollSubscriptionPeriod(ctx context.Context, user utils.SixID, credits int, now time.Time, period time.Duration) (bool, error) {
	sub, err := s.GetSubscription(ctx, user)
	if err != nil {
		return false, err
	}
	if sub.NextResetAt.After(now) {
		return false, nil
	}
	start, next := nextPeriod(sub.NextResetAt, now, period)
	filter := bson.M{"user_id": user, "next_reset_at": sub.NextResetAt}
	update := bson.M{"$set": bson.M{
		"credits_remaining": credits,
		"period_start":      start,
		"next_reset_at":     next,
		"updated_at":        now,
	}}
	res, err := s.coll(SubscriptionsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to roll subscription of %s: %w", user, err)
	}
	return res.ModifiedCount == 1, nil
}

func (s *mongoStore) ListSubscriptionsDue(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	opts := options.Find().SetSort(bson.D{{Key: "next_reset_at", Value: 1}}).SetLimit(int64(limit))
	filter := bson.M{"next_reset_at": bson.M{"$lte": now}, "active_until": bson.M{"$gt": now}}
	out, err := findAll[models.Subscription](ctx, s.coll(SubscriptionsCollection), filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error listing due subscriptions: %w", err)
	}
	return out, nil
}

// nextPeriod advances a reset boundary past now in whole periods.
func nextPeriod(resetAt, now time.Time, period time.Duration) (time.Time, time.Time) {
	if period <= 0 {
		period = 30 * 24 * time.Hour
	}
	start := resetAt
	next := resetAt.Add(period)
	for !next.After(now) {
		start = next
		next = next.Add(period)
	}
	return start, next
}

// --- Bookings ---

func (s *mongoStore) InsertBooking(ctx context.Context, b *models.Booking) error {
	b.GenIDIfEmpty()
	err := db.Try(func() error {
		_, insertErr := s.coll(BookingsCollection).InsertOne(ctx, b)
		if insertErr != nil && db.IsMongoDuplicateKeyError(insertErr) {
			b.GenID()
		}
		return insertErr
	})
	if err != nil {
		return fmt.Errorf("failed to insert booking for property %s: %w", b.PropertyID, err)
	}
	return nil
}

func (s *mongoStore) GetBooking(ctx context.Context, id utils.SixID) (*models.Booking, error) {
	b, err := findOne[models.Booking](ctx, s.coll(BookingsCollection), bson.M{"_id": id})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("error finding booking %s: %w", id, err)
	}
	return b, err
}

func (s *mongoStore) ListBookings(ctx context.Context, property utils.SixID, status models.BookingStatus, from time.Time) ([]models.Booking, error) {
	filter := bson.M{"property_id": property, "status": status, "check_out_date": bson.M{"$gt": from}}
	opts := options.Find().SetSort(bson.D{{Key: "check_in_date", Value: 1}})
	out, err := findAll[models.Booking](ctx, s.coll(BookingsCollection), filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error listing bookings of property %s: %w", property, err)
	}
	return out, nil
}

func (s *mongoStore) SetBookingStatus(ctx context.Context, id utils.SixID, from, to models.BookingStatus, at time.Time) (bool, error) {
	filter := bson.M{"_id": id, "status": from}
	update := bson.M{"$set": bson.M{"status": to, "updated_at": at}}
	res, err := s.coll(BookingsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to set booking %s to %s: %w", id, to, err)
	}
	return res.ModifiedCount == 1, nil
}

type calendarDoc struct {
	ID      utils.SixID `bson:"_id"`
	Version int64       `bson:"version"`
}

func (s *mongoStore) CalendarVersion(ctx context.Context, property utils.SixID) (int64, error) {
	doc, err := findOne[calendarDoc](ctx, s.coll(CalendarsCollection), bson.M{"_id": property})
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("error reading calendar of %s: %w", property, err)
	}
	return doc.Version, nil
}

func (s *mongoStore) AdvanceCalendar(ctx context.Context, property utils.SixID, from int64) (bool, error) {
	// With from == 0 the upsert creates the document; a stale from collides
	// on _id instead.
	filter := bson.M{"_id": property, "version": from}
	update := bson.M{"$inc": bson.M{"version": int64(1)}}
	res, err := s.coll(CalendarsCollection).UpdateOne(ctx, filter, update, options.Update().SetUpsert(from == 0))
	if err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to advance calendar of %s: %w", property, err)
	}
	return res.ModifiedCount == 1 || res.UpsertedCount == 1, nil
}

func (s *mongoStore) AddBlockedDates(ctx context.Context, property utils.SixID, dates []time.Time) error {
	if len(dates) == 0 {
		return nil
	}
	now := time.Now().UTC()
	writes := make([]mongo.WriteModel, 0, len(dates))
	for _, d := range dates {
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"property_id": property, "date": d}).
			SetUpdate(bson.M{"$setOnInsert": bson.M{"_id": utils.NewSixID(), "created_at": now}}).
			SetUpsert(true))
	}
	if _, err := s.coll(BlockedDatesCollection).BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false)); err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("failed to block dates for property %s: %w", property, err)
	}
	return nil
}

func (s *mongoStore) RemoveBlockedDates(ctx context.Context, property utils.SixID, dates []time.Time) error {
	if len(dates) == 0 {
		return nil
	}
	_, err := s.coll(BlockedDatesCollection).DeleteMany(ctx, bson.M{"property_id": property, "date": bson.M{"$in": dates}})
	if err != nil {
		return fmt.Errorf("failed to unblock dates for property %s: %w", property, err)
	}
	return nil
}

func (s *mongoStore) ListBlockedDates(ctx context.Context, property utils.SixID, from time.Time) ([]models.BlockedDate, error) {
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}})
	out, err := findAll[models.BlockedDate](ctx, s.coll(BlockedDatesCollection), bson.M{"property_id": property, "date": bson.M{"$gte": from}}, opts)
	if err != nil {
		return nil, fmt.Errorf("error listing blocked dates of property %s: %w", property, err)
	}
	return out, nil
}

// --- Device tokens ---

func (s *mongoStore) UpsertDeviceToken(ctx context.Context, user utils.SixID, token, platform string, at time.Time) error {
	filter := bson.M{"user_id": user, "token": token}
	update := bson.M{
		"$set":         bson.M{"platform": platform, "updated_at": at},
		"$setOnInsert": bson.M{"_id": utils.NewSixID(), "created_at": at},
	}
	if _, err := s.coll(DeviceTokensCollection).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			// Concurrent registration of the same token; the other write won.
			return nil
		}
		return fmt.Errorf("failed to register device token for %s: %w", user, err)
	}
	return nil
}

func (s *mongoStore) ListDeviceTokens(ctx context.Context, user utils.SixID) ([]models.DeviceToken, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	out, err := findAll[models.DeviceToken](ctx, s.coll(DeviceTokensCollection), bson.M{"user_id": user}, opts)
	if err != nil {
		return nil, fmt.Errorf("error listing device tokens of %s: %w", user, err)
	}
	return out, nil
}

func (s *mongoStore) DeleteDeviceToken(ctx context.Context, user utils.SixID, token string) (bool, error) {
	res, err := s.coll(DeviceTokensCollection).DeleteOne(ctx, bson.M{"user_id": user, "token": token})
	if err != nil {
		return false, fmt.Errorf("failed to delete device token of %s: %w", user, err)
	}
	return res.DeletedCount == 1, nil
}

func (s *mongoStore) ClearLegacyPushToken(ctx context.Context, user utils.SixID, token string) (bool, error) {
	filter := bson.M{"_id": user, "push_token": token}
	update := bson.M{"$unset": bson.M{"push_token": ""}, "$set": bson.M{"updated_at": time.Now().UTC()}}
	res, err := s.coll(AccountsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to clear push token of %s: %w", user, err)
	}
	return res.ModifiedCount == 1, nil
}
