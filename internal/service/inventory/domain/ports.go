package domain

import "context"

// TxStore 汇聚了一次同商品串行化区间内可用的读写操作。
// SerializeProduct 回调拿到的就是这个接口；区间内的读和写
// 要么一起提交，要么一起回滚。
type TxStore interface {
	// GetProduct 按 ID 读取商品，不存在时返回 ErrProductNotFound
	GetProduct(ctx context.Context, id int64) (*Product, error)

	// SumReservedQuantity 统计所有购物车对该商品的预约总量，无预约时为 0
	SumReservedQuantity(ctx context.Context, productID int64) (int, error)

	// FindReservation 查找 (cart, product) 的预约记录，不存在时返回 (nil, nil)
	FindReservation(ctx context.Context, cartID string, productID int64) (*Reservation, error)

	// UpsertReservation 创建或覆盖 (cart, product) 的唯一一条记录，quantity 必须为正
	UpsertReservation(ctx context.Context, cartID string, productID int64, quantity int) error

	// DeleteReservation 删除 (cart, product) 的预约，记录不存在时也返回成功
	DeleteReservation(ctx context.Context, cartID string, productID int64) error

	// GetOrCreateCart 返回已有购物车或以当前时间新建一个，幂等
	GetOrCreateCart(ctx context.Context, cartID string) (*Cart, error)

	// TouchCart 刷新购物车的最后修改时间
	TouchCart(ctx context.Context, cartID string) error

	// CountCartLines 统计购物车当前的条目数，供预约策略使用
	CountCartLines(ctx context.Context, cartID string) (int, error)
}

// Store 是预约引擎对持久层的全部要求。
// 嵌入的 TxStore 方法在串行化区间之外直接调用时是普通的自动提交读写。
type Store interface {
	TxStore

	// ListReservations 按创建顺序返回购物车的全部预约
	ListReservations(ctx context.Context, cartID string) ([]*Reservation, error)

	// FindCart 查找购物车记录，不存在时返回 (nil, nil)
	FindCart(ctx context.Context, cartID string) (*Cart, error)

	// DeleteCartWithReservations 在一个事务里删除购物车及其全部预约。
	// 级联是一条显式的 delete 语句，不依赖 ORM 的隐式级联。
	// 购物车不存在时是 no-op，依然返回成功。
	DeleteCartWithReservations(ctx context.Context, cartID string) error

	// SerializeProduct 以同商品串行化的隔离级别执行 fn：
	// 两个并发的 fn 操作同一个商品时，其读-检查-写序列不会交错；
	// 不同商品之间完全并行。fn 返回错误时整体回滚。
	// 乐观策略下冲突重试耗尽时返回 ErrConflictRetryExhausted。
	SerializeProduct(ctx context.Context, productID int64, fn func(ctx context.Context, tx TxStore) error) error
}

// ProductRepository 是商品管理（CRUD）对持久层的要求，
// 与预约协调器共用同一份 products 表。
type ProductRepository interface {
	CreateProduct(ctx context.Context, p *Product) error
	GetProduct(ctx context.Context, id int64) (*Product, error)
	ListProducts(ctx context.Context) ([]*Product, error)
	// UpdateProduct 应用部分更新，只修改 patch 中非 nil 的字段
	UpdateProduct(ctx context.Context, id int64, patch ProductPatch) (*Product, error)
	// DeleteProduct 删除商品；仍有预约引用时返回 ErrProductReserved
	DeleteProduct(ctx context.Context, id int64) error
}

// ProductLocker 是外部互斥锁（Redis / ZooKeeper）的端口，
// 供存储层在数据库自身无法加行锁时串行化同商品操作。
type ProductLocker interface {
	// Acquire 阻塞直到拿到 productID 的锁或 ctx 取消，
	// 成功时返回释放函数。
	Acquire(ctx context.Context, productID int64) (release func(), err error)
}

// EventPublisher 对外广播库存变动事件
type EventPublisher interface {
	Publish(ctx context.Context, event *StockEvent) error
}

// PolicyFact 是预约策略求值时可见的事实
type PolicyFact struct {
	// Quantity 是本次操作后 (cart, product) 的目标总量
	Quantity int
	// CartLines 是该购物车当前已有的条目数
	CartLines int
	// UnitPrice 是商品单价
	UnitPrice float64
}

// ReservationPolicy 在容量检查之前对请求做业务规则校验，
// 拒绝时返回 *PolicyViolationError。
type ReservationPolicy interface {
	Evaluate(ctx context.Context, fact PolicyFact) error
}
