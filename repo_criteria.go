package auth

import (
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

func selectEq(column string, value any) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.? = ?", bun.Ident(column), value)
	}
}

// selectIn with an empty set matches nothing
func selectIn[V any](column string, values []V) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		if len(values) == 0 {
			return q.Where("1 = 0")
		}
		return q.Where("?TableAlias.? IN (?)", bun.Ident(column), bun.In(values))
	}
}

func selectOrder(expr string) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.OrderExpr(expr)
	}
}

func deleteEq(column string, value any) repository.DeleteCriteria {
	return func(q *bun.DeleteQuery) *bun.DeleteQuery {
		return q.Where("? = ?", bun.Ident(column), value)
	}
}

func deleteIn[V any](column string, values []V) repository.DeleteCriteria {
	return func(q *bun.DeleteQuery) *bun.DeleteQuery {
		return q.Where("? IN (?)", bun.Ident(column), bun.In(values))
	}
}

func deleteAll() repository.DeleteCriteria {
	return func(q *bun.DeleteQuery) *bun.DeleteQuery {
		return q.Where("1 = 1")
	}
}
